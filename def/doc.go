/*
	The def package contains the declarative heart of rill:
	process descriptors, their input and output parameter lists,
	the tagged value variant that flows through channels, and the
	task structure that records one materialization of a process.

	Everything in this package is "dumb data".  We call the parts of
	a task that identify its work the "identity keys": the process
	name, the command source, and every bound input value.  Anything
	that is an identity key is hashed when a task is materialized,
	and the resulting fingerprint names the task's work directory.
	Where data sits (which staging area) is kept out of the identity
	keys: a staged file is hashed by its stage name and its metadata or
	content, not by its staged path.  Lenient fingerprint mode is the
	exception: it hashes the file's original source reference.

	Descriptors are immutable after parse.  Clone before mutating.
*/
package def

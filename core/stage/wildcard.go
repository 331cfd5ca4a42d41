package stage

import (
	"fmt"
	"strconv"
	"strings"
)

/*
	ExpandName computes the staged name for one member of a file
	collection from its staging template.

	Rules:
	  - an empty template means `*`
	  - a template with no wildcard facing a collection of more than one
	    gets `*` appended, since distinct members need distinct names
	  - each run of `?`s becomes the 1-based index, left-zero-padded to
	    the run length
	  - `*` becomes the index too — except when the collection has
	    exactly one member, where it's stripped instead, and a template
	    that was nothing *but* the wildcard falls back to the base name
*/
func ExpandName(template string, baseName string, index int, total int) string {
	if template == "" {
		template = "*"
	}
	if !strings.ContainsAny(template, "*?") && total > 1 {
		template += "*"
	}

	template = expandQuestionRuns(template, index)

	if strings.Contains(template, "*") {
		if total == 1 {
			template = strings.ReplaceAll(template, "*", "")
			if template == "" {
				return baseName
			}
		} else {
			template = strings.ReplaceAll(template, "*", strconv.Itoa(index))
		}
	}
	return template
}

func expandQuestionRuns(template string, index int) string {
	var out strings.Builder
	for i := 0; i < len(template); {
		if template[i] != '?' {
			out.WriteByte(template[i])
			i++
			continue
		}
		runLen := 0
		for i < len(template) && template[i] == '?' {
			runLen++
			i++
		}
		out.WriteString(fmt.Sprintf("%0*d", runLen, index))
	}
	return out.String()
}

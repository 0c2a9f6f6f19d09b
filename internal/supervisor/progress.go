package supervisor

import (
	"regexp"
	"strconv"
)

// progressPattern matches the counter of a tqdm bar: " 45%|████▌     | 9/20 [00:02<00:02,  3.85it/s]".
var progressPattern = regexp.MustCompile(`\|\s*(\d+)/(\d+)\s*\[`)

// parseProgress extracts step and total from a progress bar line.
func parseProgress(line string) (step, total int, ok bool) {
	matches := progressPattern.FindStringSubmatch(line)
	if len(matches) != 3 {
		return 0, 0, false
	}
	step, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(matches[2])
	if err != nil || total == 0 || step > total {
		return 0, 0, false
	}
	return step, total, true
}

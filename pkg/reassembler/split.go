package reassembler

import (
	"strings"
)

const fence = "```"

// fenceOffsets returns the start offsets of every non-overlapping ``` in content.
func fenceOffsets(content string) []int {
	var ret []int
	pos := 0
	for pos < len(content) {
		i := strings.Index(content[pos:], fence)
		if i < 0 {
			break
		}
		ret = append(ret, pos+i)
		pos += i + len(fence)
	}
	return ret
}

// openFenceBefore returns the offset of the fence that opens the code block
// containing index, or -1 when index is outside any code block.
func openFenceBefore(fences []int, index int) int {
	count := 0
	last := -1
	for _, f := range fences {
		if f >= index {
			break
		}
		count++
		if count%2 == 1 {
			last = f
		}
	}
	if count%2 == 1 {
		return last
	}
	return -1
}

// SafeSplitPoint returns the last offset at which content can be cut so that
// the prefix renders as finished markdown.
//
// When content ends inside an unterminated code fence, the split is at the
// fence. Otherwise it is right after the last blank line outside a code
// block. len(content) means no split.
func SafeSplitPoint(content string) int {
	fences := fenceOffsets(content)
	if start := openFenceBefore(fences, len(content)); start >= 0 {
		return start
	}

	end := len(content)
	for end > 0 {
		i := strings.LastIndex(content[:end], "\n\n")
		if i < 0 {
			break
		}
		candidate := i + 2
		if openFenceBefore(fences, candidate) < 0 {
			return candidate
		}
		end = i + 1
	}
	return len(content)
}

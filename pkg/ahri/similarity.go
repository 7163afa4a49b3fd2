package ahri

// Similarity returns a Ratcliff/Obershelp ratio in [0, 1]: twice the total
// length of matching blocks over the combined length. Two empty strings are
// identical.
func Similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	matched := matchingTotal(a, b)
	return 2.0 * float64(matched) / float64(len(a)+len(b))
}

// matchingTotal finds the longest common block, then recurses into the
// pieces on either side of it.
func matchingTotal(a, b string) int {
	ai, bi, size := longestBlock(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingTotal(a[:ai], b[:bi]) +
		matchingTotal(a[ai+size:], b[bi+size:])
}

func longestBlock(a, b string) (ai, bi, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}

	// lengths[j] holds the run length ending at b[j-1] for the previous a row.
	lengths := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		prev := 0
		for j := 0; j < len(b); j++ {
			cur := lengths[j+1]
			if a[i] == b[j] {
				run := prev + 1
				lengths[j+1] = run
				if run > size {
					size = run
					ai = i - run + 1
					bi = j - run + 1
				}
			} else {
				lengths[j+1] = 0
			}
			prev = cur
		}
	}
	return ai, bi, size
}

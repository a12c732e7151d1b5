package imageops

import "image"

// Components is the result of connected-component labeling over a binary mask.
// Labels are assigned in row-major scan order starting at 1; 0 is background.
type Components struct {
	Width  int
	Height int
	Labels []int32
	Sizes  []int             // Sizes[l-1] is the pixel count of label l
	Boxes  []image.Rectangle // Boxes[l-1] is the tight bounding box of label l
}

// Count returns the number of regions found.
func (c Components) Count() int { return len(c.Sizes) }

// Largest returns the label with the greatest pixel count, or 0 when there are
// no regions. Ties go to the lowest label, i.e. the first region in scan order.
func (c Components) Largest() int {
	best, bestSize := 0, 0
	for i, n := range c.Sizes {
		if n > bestSize {
			best, bestSize = i+1, n
		}
	}
	return best
}

// LabelComponents partitions the set pixels of mask (row-major, w*h) into
// 8-connected regions.
func LabelComponents(mask []bool, w, h int) Components {
	c := Components{Width: w, Height: h, Labels: make([]int32, w*h)}
	stack := make([]int, 0, 64)
	for start := range mask {
		if !mask[start] || c.Labels[start] != 0 {
			continue
		}
		label := int32(len(c.Sizes) + 1)
		size, box := flood(w, h, start, label, c.Labels, func(i int) bool { return mask[i] }, &stack)
		c.Sizes = append(c.Sizes, size)
		c.Boxes = append(c.Boxes, box)
	}
	return c
}

// flood marks every pixel reachable from start through 8-neighbours for which
// member returns true and that is still unlabeled.
func flood(w, h, start int, label int32, labels []int32, member func(int) bool, stack *[]int) (int, image.Rectangle) {
	s := (*stack)[:0]
	s = append(s, start)
	labels[start] = label
	sx, sy := start%w, start/w
	box := image.Rect(sx, sy, sx+1, sy+1)
	size := 0
	for len(s) > 0 {
		i := s[len(s)-1]
		s = s[:len(s)-1]
		size++
		x, y := i%w, i/w
		if x < box.Min.X {
			box.Min.X = x
		}
		if x >= box.Max.X {
			box.Max.X = x + 1
		}
		if y < box.Min.Y {
			box.Min.Y = y
		}
		if y >= box.Max.Y {
			box.Max.Y = y + 1
		}
		for dy := -1; dy <= 1; dy++ {
			ny := y + dy
			if ny < 0 || ny >= h {
				continue
			}
			for dx := -1; dx <= 1; dx++ {
				nx := x + dx
				if (dx == 0 && dy == 0) || nx < 0 || nx >= w {
					continue
				}
				n := ny*w + nx
				if labels[n] == 0 && member(n) {
					labels[n] = label
					s = append(s, n)
				}
			}
		}
	}
	*stack = s
	return size, box
}

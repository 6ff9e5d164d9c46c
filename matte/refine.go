package matte

import (
	"image"

	"github.com/disintegration/imaging"
)

// dilate 方形结构元膨胀，半径 r 内有任一前景即为前景
func dilate(mask []bool, w, h, r int) []bool {
	return morph(mask, w, h, r, false)
}

// erode 方形结构元腐蚀，图像外部视为属于该区域，所以贴边的区域不会被边界吃掉
func erode(mask []bool, w, h, r int) []bool {
	return morph(mask, w, h, r, true)
}

// morph 拆成水平、垂直两遍，每遍用前缀和，复杂度与半径无关
func morph(mask []bool, w, h, r int, all bool) []bool {
	if r <= 0 {
		out := make([]bool, len(mask))
		copy(out, mask)
		return out
	}
	tmp := make([]bool, len(mask))
	out := make([]bool, len(mask))
	pre := make([]int, max(w, h)+1)
	for y := 0; y < h; y++ {
		window(mask, tmp, y*w, 1, w, r, all, pre)
	}
	for x := 0; x < w; x++ {
		window(tmp, out, x, w, h, r, all, pre)
	}
	return out
}

func window(src, dst []bool, offset, stride, n, r int, all bool, pre []int) {
	for i := 0; i < n; i++ {
		pre[i+1] = pre[i]
		if src[offset+i*stride] {
			pre[i+1]++
		}
	}
	for i := 0; i < n; i++ {
		lo, hi := max(0, i-r), min(n, i+r+1)
		c := pre[hi] - pre[lo]
		if all {
			dst[offset+i*stride] = c == hi-lo
		} else {
			dst[offset+i*stride] = c > 0
		}
	}
}

// blurAlpha 对 alpha 平面做高斯模糊，用于边缘抗锯齿
func blurAlpha(alpha []uint8, w, h int, sigma float64) []uint8 {
	plane := &image.Gray{Pix: alpha, Stride: w, Rect: image.Rect(0, 0, w, h)}
	blurred := imaging.Blur(plane, sigma)
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := blurred.Pix[y*blurred.Stride:]
		for x := 0; x < w; x++ {
			out[y*w+x] = row[x*4]
		}
	}
	return out
}

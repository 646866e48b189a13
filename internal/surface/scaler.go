package surface

// scalePlane scales a single plane with bilinear interpolation, in 16.16 fixed point.
func scalePlane(src []byte, srcStride int, srcW int, srcH int,
	dst []byte, dstStride int, dstW int, dstH int,
) {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		syFP := y * yRatio
		y0 := syFP >> 16
		yFrac := syFP & 0xFFFF
		y1 := y0 + 1
		if y1 >= srcH {
			y1 = y0
		}

		for x := 0; x < dstW; x++ {
			sxFP := x * xRatio
			x0 := sxFP >> 16
			xFrac := sxFP & 0xFFFF
			x1 := x0 + 1
			if x1 >= srcW {
				x1 = x0
			}

			p00 := int(src[y0*srcStride+x0])
			p10 := int(src[y0*srcStride+x1])
			p01 := int(src[y1*srcStride+x0])
			p11 := int(src[y1*srcStride+x1])

			top := (p00*(0x10000-xFrac) + p10*xFrac) >> 16
			bottom := (p01*(0x10000-xFrac) + p11*xFrac) >> 16

			dst[y*dstStride+x] = byte((top*(0x10000-yFrac) + bottom*yFrac) >> 16)
		}
	}
}

// scaleI420 returns a copy of a raw image scaled to the given size.
func scaleI420(img *Image, width int, height int) *Image {
	out := &Image{
		Width:    width,
		Height:   height,
		Strides:  [3]int{width, width / 2, width / 2},
		KeyFrame: img.KeyFrame,
	}

	out.Planes[0] = make([]byte, width*height)
	out.Planes[1] = make([]byte, (width/2)*(height/2))
	out.Planes[2] = make([]byte, (width/2)*(height/2))

	scalePlane(img.Planes[0], img.Strides[0], img.Width, img.Height,
		out.Planes[0], out.Strides[0], width, height)

	for i := 1; i < 3; i++ {
		scalePlane(img.Planes[i], img.Strides[i], img.Width/2, img.Height/2,
			out.Planes[i], out.Strides[i], width/2, height/2)
	}

	return out
}

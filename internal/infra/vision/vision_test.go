package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noiseImage(w, h int, seed uint64) *image.NRGBA {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(rng.IntN(256))
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// sliderImages 300 宽背景, 缺口位于 (notchX, 50), 拼图块 50x50 从背景原图截取
func sliderImages(t *testing.T, notchX int) (*Gray, *Gray) {
	t.Helper()
	src := noiseImage(300, 150, 42)
	piece := imaging.Crop(src, image.Rect(notchX, 50, notchX+50, 100))
	bg := imaging.Clone(src)
	for y := 50; y < 100; y++ {
		for x := notchX; x < notchX+50; x++ {
			c := bg.NRGBAAt(x, y)
			v := c.R / 2
			bg.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	bgImg, err := Decode(encode(t, bg))
	require.NoError(t, err)
	pieceImg, err := Decode(encode(t, piece))
	require.NoError(t, err)
	return ToGray(bgImg, 32), ToGray(pieceImg, 32)
}

func TestMatchPieceFindsNotch(t *testing.T) {
	t.Parallel()

	bg, piece := sliderImages(t, 180)
	offset, m := MatchPiece(bg, piece)
	assert.Equal(t, 180, offset)
	assert.Equal(t, 50, m.Y)
	assert.GreaterOrEqual(t, m.Confidence, 0.9)
	assert.LessOrEqual(t, m.Confidence, 1.0)
}

func TestMatchPieceDeterministic(t *testing.T) {
	t.Parallel()

	bg, piece := sliderImages(t, 97)
	o1, m1 := MatchPiece(bg, piece)
	o2, m2 := MatchPiece(bg, piece)
	assert.Equal(t, o1, o2)
	assert.Equal(t, m1, m2)
	assert.GreaterOrEqual(t, o1, 0)
	assert.LessOrEqual(t, o1, bg.W)
}

func TestMatchPieceFullWidthStrip(t *testing.T) {
	t.Parallel()

	bg, _ := sliderImages(t, 150)
	// 拼图块图片与背景等大,块位于左侧 x=5
	src := noiseImage(300, 150, 42)
	strip := image.NewNRGBA(image.Rect(0, 0, 300, 150))
	for y := 50; y < 100; y++ {
		for x := 0; x < 50; x++ {
			strip.SetNRGBA(x+5, y, src.NRGBAAt(x+150, y))
		}
	}
	offset, _ := MatchPiece(bg, ToGray(strip, 32))
	assert.Equal(t, 145, offset)
}

func TestEdgeColumnOutlier(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 300, 150))
	for y := 0; y < 150; y++ {
		for x := 0; x < 300; x++ {
			v := uint8(128)
			if x >= 200 && x < 240 && y >= 50 && y < 90 {
				v = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	x, ok := EdgeColumnOutlier(ToGray(img, 32), 80, 10)
	require.True(t, ok)
	assert.InDelta(t, 199, x, 1)

	// 最小偏移之后才接受
	_, ok = EdgeColumnOutlier(ToGray(img, 32), 80, 245)
	assert.False(t, ok)
}

func squareImage(size int, angle float64) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(0)
			if x >= size/4 && x < size*3/4 && y >= size/4 && y < size*3/4 {
				v = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	if angle == 0 {
		return img
	}
	return imaging.Rotate(img, angle, color.Black)
}

func TestAngleHistogram(t *testing.T) {
	t.Parallel()

	flat := AngleHistogram(ToGray(squareImage(120, 0), 32), 50)
	assert.LessOrEqual(t, math.Abs(flat.Degrees), 1.5)
	assert.Greater(t, flat.Confidence, 0.3)

	tilted := AngleHistogram(ToGray(squareImage(120, 10), 32), 50)
	assert.InDelta(t, 10, math.Abs(tilted.Degrees), 3)
}

func TestMatchReference(t *testing.T) {
	t.Parallel()

	// L 形图案,旋转不对称
	ref := image.NewNRGBA(image.Rect(0, 0, 80, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 80; x++ {
			v := uint8(30)
			if (x >= 15 && x < 30 && y >= 10 && y < 70) || (x >= 15 && x < 65 && y >= 55 && y < 70) {
				v = 230
			}
			ref.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	// 逆时针转了 90 度,需要顺时针转回 90 度
	shown := imaging.Rotate90(ref)
	est := MatchReference(shown, ref, 5)
	assert.InDelta(t, 90, est.Degrees, 0.001)
	assert.Greater(t, est.Confidence, 0.9)
}

func TestBlobs(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 200, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 200; x++ {
			v := uint8(200)
			if x >= 20 && x < 60 && y >= 30 && y < 70 {
				v = 20
			}
			if x >= 120 && x < 145 && y >= 40 && y < 65 {
				v = 20
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	blobs := Blobs(ToGray(img, 32), 100, 8, 100)
	require.Len(t, blobs, 2)
	assert.True(t, image.Pt(40, 50).In(blobs[0].Box))
	assert.True(t, image.Pt(132, 52).In(blobs[1].Box))
}

func TestSliderTrajectory(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(9, 9))
	steps := SliderTrajectory(180, 30, rng)
	require.Len(t, steps, 30)
	assert.Equal(t, 180.0, steps[len(steps)-1].DX)
	assert.Equal(t, 0.0, steps[len(steps)-1].DY)

	inc := func(i int) float64 {
		prev := 0.0
		if i > 0 {
			prev = steps[i-1].DX
		}
		return steps[i].DX - prev
	}
	var mid, tail float64
	for i := 15; i < 21; i++ {
		mid += inc(i)
	}
	for i := 24; i < 30; i++ {
		tail += inc(i)
	}
	assert.Less(t, tail, mid)
}

func TestArcTrajectory(t *testing.T) {
	t.Parallel()

	steps := ArcTrajectory(0, 0, 10, 0, 90, 6)
	require.Len(t, steps, 6)
	last := steps[len(steps)-1]
	assert.InDelta(t, 0, last.DX, 1e-9)
	assert.InDelta(t, 10, last.DY, 1e-9)
	for _, s := range steps {
		assert.InDelta(t, 10, math.Hypot(s.DX, s.DY), 1e-9)
	}
}

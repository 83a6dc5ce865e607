package tesseract

import (
	"context"
	"image"
	"image/color"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func renderText(text string) image.Image {
	small := image.NewRGBA(image.Rect(0, 0, 120, 30))
	draw.Draw(small, small.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  small,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, 20),
	}
	d.DrawString(text)

	big := image.NewRGBA(image.Rect(0, 0, 480, 120))
	draw.NearestNeighbor.Scale(big, big.Bounds(), small, small.Bounds(), draw.Src, nil)
	return big
}

func TestEngine_Recognize(t *testing.T) {
	ensureTesseractAvailable(t)

	text, err := New([]string{"eng"}, 300).Recognize(context.Background(), renderText("Hello PDF"))
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(text), "hello")
}

func TestEngine_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil, 0).Recognize(ctx, renderText("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

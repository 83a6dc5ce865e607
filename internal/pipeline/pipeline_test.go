package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/observability"
	"github.com/spherical/preview-extractor/internal/pipeline/pipelinetest"
)

var doc = domain.Region("%PDF-1.7")

func runText(t *testing.T, conv domain.BitmapConverter, rec domain.Recognizer, opts Options) (string, error) {
	t.Helper()
	var (
		got   string
		err   error
		calls int
	)
	New(conv, rec, observability.Nop()).Run(context.Background(), doc, opts, TextCompletion(func(text string, e error) {
		calls++
		got, err = text, e
	}))
	require.Equal(t, 1, calls, "completion must fire exactly once")
	return got, err
}

func runImages(t *testing.T, conv domain.BitmapConverter, opts Options) ([][]byte, error) {
	t.Helper()
	var (
		got   [][]byte
		err   error
		calls int
	)
	New(conv, nil, observability.Nop()).Run(context.Background(), doc, opts, ImagesCompletion(func(images [][]byte, e error) {
		calls++
		got, err = images, e
	}))
	require.Equal(t, 1, calls, "completion must fire exactly once")
	return got, err
}

func TestRun_ThreePageDocument(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		conv := pipelinetest.NewConverter(pipelinetest.Pages(3))
		text, err := runText(t, conv, &pipelinetest.Recognizer{}, Options{PageLimit: 10})
		require.NoError(t, err)
		assert.Equal(t, "page-0\npage-1\npage-2", text)
		assert.Equal(t, []int{0, 1, 2}, conv.Requested())
		assert.Equal(t, 1, conv.Closed())
	})

	t.Run("images", func(t *testing.T) {
		conv := pipelinetest.NewConverter(pipelinetest.Pages(3))
		images, err := runImages(t, conv, Options{})
		require.NoError(t, err)
		require.Len(t, images, 3)
		for i, data := range images {
			img, err := png.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, i, pipelinetest.IndexOf(img), "pages must stay in index order")
		}
	})
}

func TestRun_TextPageLimit(t *testing.T) {
	tests := []struct {
		name      string
		pages     int
		limit     int
		want      string
		requested []int
	}{
		{"limit below count", 5, 3, "page-0\npage-1\npage-2", []int{0, 1, 2}},
		{"limit above count", 2, 10, "page-0\npage-1", []int{0, 1}},
		{"limit equals count", 2, 2, "page-0\npage-1", []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := pipelinetest.NewConverter(pipelinetest.Pages(tt.pages))
			text, err := runText(t, conv, &pipelinetest.Recognizer{}, Options{PageLimit: tt.limit})
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
			assert.Equal(t, tt.requested, conv.Requested())
		})
	}
}

func TestRun_TextDefaultPageLimit(t *testing.T) {
	conv := pipelinetest.NewConverter(pipelinetest.Pages(DefaultPageLimit + 5))
	_, err := runText(t, conv, &pipelinetest.Recognizer{}, Options{})
	require.NoError(t, err)
	assert.Len(t, conv.Requested(), DefaultPageLimit)
}

func TestRun_TextSkipsEmptyEntries(t *testing.T) {
	conv := pipelinetest.NewConverter(pipelinetest.Pages(4))
	rec := &pipelinetest.Recognizer{Texts: map[int]string{0: "", 2: ""}}
	text, err := runText(t, conv, rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, "page-1\npage-3", text)
}

func TestRun_InvalidBitmap(t *testing.T) {
	bitmaps := pipelinetest.Pages(4)
	bitmaps[2] = nil

	t.Run("text stops early", func(t *testing.T) {
		text, err := runText(t, pipelinetest.NewConverter(bitmaps), &pipelinetest.Recognizer{}, Options{})
		require.NoError(t, err)
		assert.Equal(t, "page-0\npage-1", text)
	})

	t.Run("images fail", func(t *testing.T) {
		images, err := runImages(t, pipelinetest.NewConverter(bitmaps), Options{})
		assert.Nil(t, images)
		assert.ErrorIs(t, err, domain.ErrInvalidBitmap)
	})
}

func TestRun_Disconnect(t *testing.T) {
	newConv := func() *pipelinetest.Converter {
		conv := pipelinetest.NewConverter(pipelinetest.Pages(5))
		conv.DisconnectAfter = 2
		return conv
	}

	t.Run("text returns partial", func(t *testing.T) {
		text, err := runText(t, newConv(), &pipelinetest.Recognizer{}, Options{})
		require.NoError(t, err)
		assert.Equal(t, "page-0\npage-1", text)
	})

	t.Run("images fail", func(t *testing.T) {
		images, err := runImages(t, newConv(), Options{})
		assert.Nil(t, images)
		assert.ErrorIs(t, err, domain.ErrBitmapConverterDisconnected)
	})

	t.Run("connect failure", func(t *testing.T) {
		conv := pipelinetest.NewConverter(pipelinetest.Pages(1))
		conv.ConnectErr = domain.ErrServiceDisconnected

		text, err := runText(t, conv, &pipelinetest.Recognizer{}, Options{})
		require.NoError(t, err)
		assert.Empty(t, text)

		_, err = runImages(t, conv, Options{})
		assert.ErrorIs(t, err, domain.ErrBitmapConverterDisconnected)
	})
}

func TestRun_PageCountAsymmetry(t *testing.T) {
	cases := map[string]*pipelinetest.Converter{
		"zero":   {Count: 0, CountSet: true, DisconnectAfter: -1},
		"failed": {CountErr: errors.New("unreadable"), DisconnectAfter: -1},
	}
	for name, conv := range cases {
		t.Run(name, func(t *testing.T) {
			text, err := runText(t, conv, &pipelinetest.Recognizer{}, Options{})
			require.NoError(t, err)
			assert.Empty(t, text)

			_, err = runImages(t, conv, Options{})
			assert.ErrorIs(t, err, domain.ErrFailedToGetPageCount)
		})
	}
}

func TestRun_RecognizerErrorStopsEarly(t *testing.T) {
	rec := &pipelinetest.Recognizer{Err: errors.New("ocr down")}
	text, err := runText(t, pipelinetest.NewConverter(pipelinetest.Pages(3)), rec, Options{})
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Equal(t, 1, rec.Calls())
}

func TestRun_BackendOverride(t *testing.T) {
	conv := pipelinetest.NewConverter(pipelinetest.Pages(1))
	_, err := runText(t, conv, &pipelinetest.Recognizer{}, Options{})
	require.NoError(t, err)
	_, set := conv.Override()
	assert.False(t, set)

	_, err = runText(t, conv, &pipelinetest.Recognizer{}, Options{BackendOverride: true, OverrideSet: true})
	require.NoError(t, err)
	enabled, set := conv.Override()
	assert.True(t, set)
	assert.True(t, enabled)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	New(pipelinetest.NewConverter(pipelinetest.Pages(2)), &pipelinetest.Recognizer{}, nil).
		Run(ctx, doc, Options{}, TextCompletion(func(_ string, err error) { gotErr = err }))
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestRun_OnPage(t *testing.T) {
	var seen []int
	opts := Options{OnPage: func(index, count int) {
		assert.Equal(t, 3, count)
		seen = append(seen, index)
	}}
	_, err := runImages(t, pipelinetest.NewConverter(pipelinetest.Pages(3)), opts)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestFail(t *testing.T) {
	var textErr, imagesErr error
	Fail(TextCompletion(func(_ string, err error) { textErr = err }), domain.ErrNoDataForSession)
	Fail(ImagesCompletion(func(_ [][]byte, err error) { imagesErr = err }), domain.ErrAllocationFailed)
	assert.ErrorIs(t, textErr, domain.ErrNoDataForSession)
	assert.ErrorIs(t, imagesErr, domain.ErrAllocationFailed)
}

func TestModeOf(t *testing.T) {
	assert.Equal(t, domain.ModeText, ModeOf(TextCompletion(func(string, error) {})))
	assert.Equal(t, domain.ModeRawPageImages, ModeOf(ImagesCompletion(func([][]byte, error) {})))
}

func TestEncodePage(t *testing.T) {
	t.Run("downscales wide pages", func(t *testing.T) {
		data, err := EncodePage(image.NewRGBA(image.Rect(0, 0, 2048, 100)), 1024)
		require.NoError(t, err)
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 1024, cfg.Width)
		assert.Equal(t, 50, cfg.Height)
	})

	t.Run("keeps narrow pages", func(t *testing.T) {
		data, err := EncodePage(image.NewRGBA(image.Rect(0, 0, 300, 400)), 1024)
		require.NoError(t, err)
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 300, cfg.Width)
		assert.Equal(t, 400, cfg.Height)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := EncodePage(image.NewRGBA(image.Rectangle{}), 1024)
		assert.Error(t, err)
	})
}

package llm

import (
	"fmt"
	"path/filepath"

	"github.com/sandevgo/chatd/internal/core"
)

func encodeImage(img core.Image) (mediaType, data string, err error) {
	mediaType, err = img.MediaType()
	if err != nil {
		return "", "", err
	}
	data, err = img.Base64()
	if err != nil {
		return "", "", err
	}
	return mediaType, data, nil
}

func imageDataURL(img core.Image) (string, error) {
	mediaType, data, err := encodeImage(img)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data:%s;base64,%s", mediaType, data), nil
}

// fileText extracts a document and labels it with its file name.
func fileText(f core.File) (string, error) {
	text, err := f.Extract()
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(f.Path), err)
	}
	return fmt.Sprintf("File %s:\n%s", filepath.Base(f.Path), text), nil
}

package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxUploadSize bounds a decoded image upload.
const MaxUploadSize = 5 << 20

// base64 inflates by 4/3; the extra slack covers the data URL header and JSON framing.
const maxJSONBodySize = MaxUploadSize*4/3 + 4096

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/webp": true,
}

var (
	errImageRequired    = errors.New("image data required")
	errUploadTooLarge   = errors.New("image exceeds maximum upload size")
	errUnsupportedImage = errors.New("unsupported image content type")
)

type imageRequest struct {
	Image string `json:"image"`
}

// imagePayload is either raw upload bytes or a base64 data URL.
type imagePayload struct {
	raw     []byte
	dataURL string
}

// readImage accepts a multipart "image" field or a JSON {"image": dataURL} body.
func readImage(c *gin.Context) (imagePayload, int, error) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		return readMultipartImage(c)
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBodySize)
	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return imagePayload{}, http.StatusRequestEntityTooLarge, errUploadTooLarge
		}
		return imagePayload{}, http.StatusBadRequest, errImageRequired
	}
	if strings.TrimSpace(req.Image) == "" {
		return imagePayload{}, http.StatusBadRequest, errImageRequired
	}
	return imagePayload{dataURL: req.Image}, http.StatusOK, nil
}

func readMultipartImage(c *gin.Context) (imagePayload, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+64<<10)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return imagePayload{}, http.StatusRequestEntityTooLarge, errUploadTooLarge
		}
		return imagePayload{}, http.StatusBadRequest, errImageRequired
	}
	if file.Size > MaxUploadSize {
		return imagePayload{}, http.StatusRequestEntityTooLarge, errUploadTooLarge
	}

	src, err := file.Open()
	if err != nil {
		return imagePayload{}, http.StatusBadRequest, errors.New("unable to open image")
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return imagePayload{}, http.StatusInternalServerError, errors.New("failed to read image")
	}
	if len(data) > MaxUploadSize {
		return imagePayload{}, http.StatusRequestEntityTooLarge, errUploadTooLarge
	}

	contentType, _, _ := mime.ParseMediaType(file.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !allowedImageTypes[contentType] {
		return imagePayload{}, http.StatusUnsupportedMediaType, errUnsupportedImage
	}
	return imagePayload{raw: data}, http.StatusOK, nil
}

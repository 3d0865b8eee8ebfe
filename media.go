package weblog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/image/draw"

	"github.com/eringen/weblog/logger"
	"github.com/eringen/weblog/storage"
)

const (
	maxImageWidth = 800
	jpegQuality   = 80
	maxUploadSize = 10 << 20 // 10MB
)

// processImage decodes an image from src, resizes it down to maxImageWidth
// when wider, and re-encodes it as JPEG.
func processImage(src io.Reader) ([]byte, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxImageWidth {
		newH := h * maxImageWidth / w
		dst := image.NewRGBA(image.Rect(0, 0, maxImageWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// mediaKey derives the storage key for an uploaded file name.
func mediaKey(name string) string {
	base := Slugify(strings.TrimSuffix(name, filepath.Ext(name)))
	if base == "" {
		base = "image"
	}
	return base + ".jpg"
}

// uniqueMediaKey appends a counter to key until it names no stored object.
func (a *App) uniqueMediaKey(ctx context.Context, key string) (string, error) {
	objs, err := a.Media.List(ctx, "")
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(objs))
	for _, o := range objs {
		taken[o.Key] = true
	}
	base := strings.TrimSuffix(key, ".jpg")
	candidate := key
	for n := 2; taken[candidate]; n++ {
		candidate = base + "-" + strconv.Itoa(n) + ".jpg"
	}
	return candidate, nil
}

func (a *App) handleMediaList(c echo.Context) error {
	objs, err := a.Media.List(c.Request().Context(), "")
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}
	if objs == nil {
		objs = []storage.Object{}
	}
	return c.JSON(http.StatusOK, objs)
}

func (a *App) handleMediaUpload(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return &ValidationError{Field: "image", Message: "No image file provided."}
	}
	if file.Size > maxUploadSize {
		return &ValidationError{Field: "image", Message: "File too large (max 10MB)."}
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	data, err := processImage(io.LimitReader(src, maxUploadSize))
	if err != nil {
		return &ValidationError{Field: "image", Message: "Invalid image."}
	}

	ctx := c.Request().Context()
	key, err := a.uniqueMediaKey(ctx, mediaKey(file.Filename))
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}
	obj, err := a.Media.Upload(ctx, key, bytes.NewReader(data), "image/jpeg")
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}
	logger.Info("media uploaded", "key", obj.Key, "size", obj.Size)
	return c.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"object":  obj,
		"url":     BuildURL("/", "media", obj.Key),
	})
}

func (a *App) handleMediaGet(c echo.Context) error {
	key := c.Param("key")
	if !storage.ValidKey(key) {
		return ErrNotFound
	}
	body, obj, err := a.Media.Get(c.Request().Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get media: %w", err)
	}
	defer body.Close()
	if obj.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(obj.Size, 10))
	}
	return c.Stream(http.StatusOK, obj.ContentType, body)
}

func (a *App) handleMediaDelete(c echo.Context) error {
	key := c.Param("key")
	if !storage.ValidKey(key) {
		return &ValidationError{Field: "key", Message: "Invalid key."}
	}
	if err := a.Media.Delete(c.Request().Context(), key); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	logger.Info("media deleted", "key", key)
	return c.JSON(http.StatusOK, apiResponse{Success: true})
}

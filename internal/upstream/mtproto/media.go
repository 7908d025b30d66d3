package mtproto

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// attachment wraps one provider media object, keeping the original around so
// a direct re-send can reuse the upstream file reference.
type attachment struct {
	photo *tg.Photo
	doc   *tg.Document
}

func wrapMedia(media tg.MessageMediaClass) *attachment {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		if p, ok := m.Photo.(*tg.Photo); ok {
			return &attachment{photo: p}
		}
	case *tg.MessageMediaDocument:
		if d, ok := m.Document.(*tg.Document); ok {
			return &attachment{doc: d}
		}
	}
	return nil
}

func (a *attachment) MimeType() string {
	if a.doc != nil {
		return a.doc.MimeType
	}
	return "image/jpeg"
}

func (a *attachment) FileName() string {
	if a.doc != nil {
		for _, attr := range a.doc.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				return fn.FileName
			}
		}
		return "file.bin"
	}
	return "photo.jpg"
}

func (a *attachment) IsVideo() bool {
	if a.doc == nil {
		return false
	}
	if strings.HasPrefix(a.doc.MimeType, "video/") {
		return true
	}
	for _, attr := range a.doc.Attributes {
		if _, ok := attr.(*tg.DocumentAttributeVideo); ok {
			return true
		}
	}
	return false
}

func (a *attachment) HasThumb() bool {
	return a.doc != nil && len(a.doc.Thumbs) > 0
}

func asAttachment(media upstream.Media) (*attachment, error) {
	a, ok := media.(*attachment)
	if !ok || (a.photo == nil && a.doc == nil) {
		return nil, fmt.Errorf("%w: unsupported media object", upstream.ErrInvalidInput)
	}
	return a, nil
}

// SendMedia re-sends the media object by reference, without downloading.
// Fails when the stored file reference has expired; the caller falls back to
// DownloadMedia + SendFile.
func (c *Client) SendMedia(ctx context.Context, peer int64, media upstream.Media, caption string, entities any) error {
	a, err := asAttachment(media)
	if err != nil {
		return err
	}
	input, err := c.inputPeer(ctx, peer)
	if err != nil {
		return err
	}

	var inputMedia tg.InputMediaClass
	if a.photo != nil {
		inputMedia = &tg.InputMediaPhoto{ID: &tg.InputPhoto{
			ID:            a.photo.ID,
			AccessHash:    a.photo.AccessHash,
			FileReference: a.photo.FileReference,
		}}
	} else {
		inputMedia = &tg.InputMediaDocument{ID: &tg.InputDocument{
			ID:            a.doc.ID,
			AccessHash:    a.doc.AccessHash,
			FileReference: a.doc.FileReference,
		}}
	}

	req := &tg.MessagesSendMediaRequest{
		Peer:     input,
		Media:    inputMedia,
		Message:  caption,
		RandomID: rand.Int64(),
	}
	if ents, ok := entities.([]tg.MessageEntityClass); ok && len(ents) > 0 {
		req.SetEntities(ents)
	}
	_, err = c.api.MessagesSendMedia(ctx, req)
	return wrapRPC(err)
}

// DownloadMedia fetches the attachment into dir, plus a thumbnail when the
// document carries a distinct one.
func (c *Client) DownloadMedia(ctx context.Context, media upstream.Media, dir string) (*upstream.DownloadResult, error) {
	a, err := asAttachment(media)
	if err != nil {
		return nil, err
	}

	d := downloader.NewDownloader()
	res := &upstream.DownloadResult{Path: filepath.Join(dir, a.FileName())}

	var location tg.InputFileLocationClass
	if a.photo != nil {
		location = &tg.InputPhotoFileLocation{
			ID:            a.photo.ID,
			AccessHash:    a.photo.AccessHash,
			FileReference: a.photo.FileReference,
			ThumbSize:     largestPhotoSize(a.photo.Sizes),
		}
	} else {
		location = &tg.InputDocumentFileLocation{
			ID:            a.doc.ID,
			AccessHash:    a.doc.AccessHash,
			FileReference: a.doc.FileReference,
		}
	}
	if _, err := d.Download(c.api, location).ToPath(ctx, res.Path); err != nil {
		return nil, wrapRPC(fmt.Errorf("download media: %w", err))
	}

	if a.doc != nil && len(a.doc.Thumbs) > 0 {
		thumbPath := filepath.Join(dir, "thumb.jpg")
		thumbLoc := &tg.InputDocumentFileLocation{
			ID:            a.doc.ID,
			AccessHash:    a.doc.AccessHash,
			FileReference: a.doc.FileReference,
			ThumbSize:     largestThumbSize(a.doc.Thumbs),
		}
		if _, err := d.Download(c.api, thumbLoc).ToPath(ctx, thumbPath); err == nil {
			res.ThumbPath = thumbPath
		}
	}
	return res, nil
}

func largestPhotoSize(sizes []tg.PhotoSizeClass) string {
	best := ""
	for _, s := range sizes {
		if ps, ok := s.(*tg.PhotoSize); ok {
			best = ps.Type
		}
	}
	return best
}

func largestThumbSize(sizes []tg.PhotoSizeClass) string {
	return largestPhotoSize(sizes)
}

// SendFile uploads the downloaded file and sends it, carrying over the
// original document attributes so videos keep streaming support and names
// survive.
func (c *Client) SendFile(ctx context.Context, peer int64, res *upstream.DownloadResult, media upstream.Media, caption string, entities any) error {
	a, err := asAttachment(media)
	if err != nil {
		return err
	}
	input, err := c.inputPeer(ctx, peer)
	if err != nil {
		return err
	}

	u := uploader.NewUploader(c.api)
	file, err := u.FromPath(ctx, res.Path)
	if err != nil {
		return wrapRPC(fmt.Errorf("upload file: %w", err))
	}

	var inputMedia tg.InputMediaClass
	if a.photo != nil {
		inputMedia = &tg.InputMediaUploadedPhoto{File: file}
	} else {
		doc := &tg.InputMediaUploadedDocument{
			File:       file,
			MimeType:   a.doc.MimeType,
			Attributes: uploadAttributes(a.doc),
		}
		if res.ThumbPath != "" {
			thumb, err := u.FromPath(ctx, res.ThumbPath)
			if err == nil {
				doc.SetThumb(thumb)
			}
		}
		inputMedia = doc
	}

	req := &tg.MessagesSendMediaRequest{
		Peer:     input,
		Media:    inputMedia,
		Message:  caption,
		RandomID: rand.Int64(),
	}
	if ents, ok := entities.([]tg.MessageEntityClass); ok && len(ents) > 0 {
		req.SetEntities(ents)
	}
	_, err = c.api.MessagesSendMedia(ctx, req)
	return wrapRPC(err)
}

func uploadAttributes(doc *tg.Document) []tg.DocumentAttributeClass {
	out := make([]tg.DocumentAttributeClass, 0, len(doc.Attributes))
	for _, attr := range doc.Attributes {
		if v, ok := attr.(*tg.DocumentAttributeVideo); ok {
			vc := *v
			vc.SupportsStreaming = true
			out = append(out, &vc)
			continue
		}
		out = append(out, attr)
	}
	return out
}

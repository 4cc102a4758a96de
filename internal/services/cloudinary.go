package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

type CloudinaryService struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryService(cloudName, apiKey, apiSecret, folder string) (*CloudinaryService, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}

	return &CloudinaryService{
		cld:    cld,
		folder: folder,
	}, nil
}

// Upload sends the object to Cloudinary under the configured folder. The
// key's directory becomes a sub-folder and its base name the public id.
func (s *CloudinaryService) Upload(ctx context.Context, u Upload) (string, error) {
	dir, file := path.Split(u.Key)
	folder := strings.Trim(path.Join(s.folder, dir), "/")
	publicID := strings.TrimSuffix(file, path.Ext(file))

	uploadResult, err := s.cld.Upload.Upload(ctx, u.Body, uploader.UploadParams{
		Folder:       folder,
		PublicID:     publicID,
		ResourceType: "image",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if uploadResult.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected upload: %s", uploadResult.Error.Message)
	}

	return uploadResult.SecureURL, nil
}

package server

import (
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "ok"})
}

// detect accepts either a multipart upload in the "image" field or a JSON
// body with a base64 image.
func (s *Server) detect(c *fiber.Ctx) error {
	entry := s.log.WithFields(logrus.Fields{"request_id": getRequestID(c), "path": c.Path()})

	img, err := s.readImage(c)
	if err != nil {
		entry.WithError(err).Debug("rejected detection request")
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	batch, err := s.runner.Run(ctx, img)
	if err != nil {
		entry.WithError(err).Error("detection failed")
		return c.Status(fiber.StatusBadGateway).JSON(FailureResponse{
			Anomalies: []postprocess.Anomaly{},
			Error:     err.Error(),
		})
	}

	entry.WithField("anomalies", batch.Len()).Debug("detection served")
	return c.JSON(batch)
}

// readImage extracts the request image.
func (s *Server) readImage(c *fiber.Ctx) (*images.Image, error) {
	if file, err := c.FormFile("image"); err == nil {
		return readUpload(file)
	}

	var req DetectionRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, errors.Wrap(err, "invalid request body")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, errors.Wrap(err, "invalid request")
	}
	return images.FromBase64(req.ImageBase64)
}

func readUpload(file *multipart.FileHeader) (*images.Image, error) {
	f, err := file.Open()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open upload")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read upload")
	}
	return images.FromBytes(data)
}

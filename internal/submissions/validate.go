package submissions

import (
	"errors"
	"io"
	"mime"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/vriksha-code/verisure/internal/doctype"
)

// MaxUploadBytes is the largest accepted file.
const MaxUploadBytes = 5 << 20

const (
	mediaJPEG = "image/jpeg"
	mediaPNG  = "image/png"
	mediaWEBP = "image/webp"
	mediaPDF  = "application/pdf"
	mediaDOC  = "application/msword"
	mediaDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var imageTypes = map[string]bool{mediaJPEG: true, mediaPNG: true, mediaWEBP: true}

var manualReviewTypes = map[string]bool{mediaPDF: true, mediaDOC: true, mediaDOCX: true}

// Submission is one upload as received from a client.
type Submission struct {
	OwnerID      string    `validate:"required"`
	SubmittedBy  string    `validate:"required"`
	FileName     string    `validate:"required"`
	Body         io.Reader `validate:"required"`
	Size         int64     `validate:"gt=0,lte=5242880"`
	MediaType    string    `validate:"accepted_media"`
	DocumentType string    `validate:"required,doctype"`
	Task         string
}

type normalized struct {
	mediaType    string
	documentType doctype.Type
	task         string
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("accepted_media", func(fl validator.FieldLevel) bool {
			mt := normalizeMediaType(fl.Field().String())
			return imageTypes[mt] || manualReviewTypes[mt]
		})
		_ = validate.RegisterValidation("doctype", func(fl validator.FieldLevel) bool {
			_, err := doctype.Parse(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// fieldMessages maps struct fields to wire names and user-facing messages,
// in the order they are checked.
var fieldMessages = map[string][2]string{
	"OwnerID":      {"ownerId", "a signed-in or guest identity is required"},
	"SubmittedBy":  {"submittedBy", "complete onboarding before submitting documents"},
	"FileName":     {"file", "a file is required"},
	"Body":         {"file", "a file is required"},
	"Size":         {"file", "file must be between 1 byte and 5 MB"},
	"MediaType":    {"file", "unsupported file type; upload a JPEG, PNG, WebP, PDF or Word document"},
	"DocumentType": {"documentType", "choose a document type"},
}

// validateSubmission runs every check that must pass before a record exists.
func validateSubmission(sub Submission) (normalized, error) {
	sub.OwnerID = strings.TrimSpace(sub.OwnerID)
	sub.SubmittedBy = strings.TrimSpace(sub.SubmittedBy)
	sub.FileName = strings.TrimSpace(sub.FileName)

	if err := validatorInstance().Struct(sub); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if m, ok := fieldMessages[fe.StructField()]; ok {
				return normalized{}, &ValidationError{Field: m[0], Message: m[1]}
			}
			return normalized{}, &ValidationError{Field: fe.Field(), Message: fe.Tag()}
		}
		return normalized{}, err
	}

	dt, _ := doctype.Parse(sub.DocumentType)
	task := strings.TrimSpace(sub.Task)
	if dt.RequiresTask() && len([]rune(task)) < doctype.MinTaskLength {
		return normalized{}, &ValidationError{
			Field:   "verificationTask",
			Message: "describe what to verify in at least 10 characters",
		}
	}
	return normalized{mediaType: normalizeMediaType(sub.MediaType), documentType: dt, task: task}, nil
}

func normalizeMediaType(raw string) string {
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	if mt == "image/jpg" || mt == "image/pjpeg" {
		return mediaJPEG
	}
	return mt
}

func isImage(mediaType string) bool {
	return imageTypes[normalizeMediaType(mediaType)]
}

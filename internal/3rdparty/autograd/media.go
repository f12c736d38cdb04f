package autograd

import (
	"path/filepath"

	"github.com/jfk9w-go/flu"
)

// MediaType tells the server what role an uploaded file plays.
type MediaType string

const (
	AssignmentCaseInput  MediaType = "assignment_case_input"
	AssignmentCaseOutput MediaType = "assignment_case_output"
	Submission           MediaType = "submission"
)

// MediaTypes lists all known media types.
var MediaTypes = []MediaType{AssignmentCaseInput, AssignmentCaseOutput, Submission}

// Valid checks if the media type is one of MediaTypes.
func (t MediaType) Valid() bool {
	switch t {
	case AssignmentCaseInput, AssignmentCaseOutput, Submission:
		return true
	default:
		return false
	}
}

// UploadMediaRequest describes a file to be uploaded with SaveMedia.
type UploadMediaRequest struct {
	// File is the media content.
	File flu.Input
	// Filename is sent as the multipart file name.
	// If empty, the base name of flu.File is used, or "media" for other inputs.
	Filename string
	// MediaType is passed to the server as is.
	MediaType MediaType
}

func (r UploadMediaRequest) filename() string {
	if r.Filename != "" {
		return r.Filename
	}

	if file, ok := r.File.(flu.File); ok {
		return filepath.Base(file.String())
	}

	return "media"
}

// UploadMediaResponse references the stored media.
// ID is used as a file reference in assignment and submission requests.
type UploadMediaResponse struct {
	ID string `json:"id"`
}

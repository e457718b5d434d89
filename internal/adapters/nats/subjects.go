package natsadapter

import "strings"

const (
	uploadsPrefix   = "street2sat.uploads."
	deletionsPrefix = "street2sat.deletions."
	cropsPrefix     = "street2sat.crops."

	// CropUpdatesWildcard matches crop-location broadcasts for every survey.
	CropUpdatesWildcard = cropsPrefix + ">"
)

// UploadSubject is the subject an upload for surveyID is published on.
func UploadSubject(surveyID string) string { return uploadsPrefix + subjectToken(surveyID) }

// DeletionSubject is the subject a deletion for surveyID is published on.
func DeletionSubject(surveyID string) string { return deletionsPrefix + subjectToken(surveyID) }

// CropSubject is the subject new crop locations for surveyID are broadcast on.
func CropSubject(surveyID string) string { return cropsPrefix + subjectToken(surveyID) }

// subjectToken makes an ID safe to use as a single subject token.
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}

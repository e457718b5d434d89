package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span names.
const (
	SpanDetect             = "detector.detect"
	SpanBuildObservation   = "observation.build"
	SpanTriangulateSurvey  = "survey.triangulate"
	SpanTriangulateBatch   = "batch.triangulate"
	SpanHandleUpload       = "inference.upload"
	SpanHandleDeletion     = "inference.deletion"
	SpanPublishCropUpdates = "survey.publish"
)

// Attribute keys.
const (
	AttrSurveyID     = attribute.Key("street2sat.survey_id")
	AttrObservation  = attribute.Key("street2sat.observation")
	AttrBatchSize    = attribute.Key("street2sat.batch_size")
	AttrCropCount    = attribute.Key("street2sat.crop_locations")
	AttrImageURI     = attribute.Key("street2sat.image_uri")
	AttrDetections   = attribute.Key("street2sat.detections")
	AttrTableVersion = attribute.Key("street2sat.crop_table_version")
)

package record

// StudyContext carries the study and series identifiers shared by every record
// derived from one batch or volume request. It is read-only once created.
type StudyContext struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
}

// NewStudyContext generates a context with fresh identifiers from newUID.
// A nil newUID uses NewUID.
func NewStudyContext(newUID func() string) *StudyContext {
	if newUID == nil {
		newUID = NewUID
	}
	return &StudyContext{
		StudyInstanceUID:  newUID(),
		SeriesInstanceUID: newUID(),
	}
}

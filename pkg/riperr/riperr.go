// Package riperr defines the error kinds shared across rip's subsystems.
//
// Kinds are modeled as sentinel wrapped errors rather than a closed type
// switch, the same way pep503.HTTPError is a plain error type that
// callers dispatch on with errors.As.
package riperr

import "fmt"

// Kind identifies one of the error categories named in the design: Transport,
// NotCached, MalformedIndex, and so on.
type Kind string

const (
	KindTransport                  Kind = "transport"
	KindNotCached                  Kind = "not_cached"
	KindMalformedIndex             Kind = "malformed_index"
	KindMalformedMetadata          Kind = "malformed_metadata"
	KindArtifactNameParse          Kind = "artifact_name_parse"
	KindDistInfoNotFound           Kind = "dist_info_not_found"
	KindAmbiguousDistInfo           Kind = "ambiguous_dist_info"
	KindUnsupportedMetadataVersion Kind = "unsupported_metadata_version"
	KindWheelVersionUnsupported    Kind = "wheel_version_unsupported"
	KindCorruptedWheel             Kind = "corrupted_wheel"
	KindBuildBackendFailed         Kind = "build_backend_failed"
	KindNoPyProjectToml            Kind = "no_pyproject_toml"
	KindInterpreterNotFound        Kind = "interpreter_not_found"
	KindInterpreterVersionParse    Kind = "interpreter_version_parse"
	KindResolutionNoMatch          Kind = "resolution_no_matching_candidate"
	KindResolutionConflict         Kind = "resolution_conflicting_constraints"
	KindResolutionYankedRequired   Kind = "resolution_yanked_required"
	KindUnsupportedScheme          Kind = "unsupported_scheme"
	KindUnsupportedFeature         Kind = "unsupported_feature"
	KindRecordFileMissing          Kind = "record_file_missing"
	KindRecordFileInvalid          Kind = "record_file_invalid"
	KindIO                         Kind = "io"
)

// Error is a kinded error: it carries enough information for a caller to
// dispatch with errors.As while still rendering a normal human message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, riperr.Of(KindX)) work by comparing Kinds.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind && other.Message == "" && other.Err == nil
}

// Of returns a marker error usable with errors.Is(err, riperr.Of(kind)) to test only the Kind.
func Of(kind Kind) error {
	return &Error{Kind: kind}
}

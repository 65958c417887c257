// Package opkind defines the error-kind taxonomy surfaced to HTTP clients and
// the OpError type that carries a kind across a component boundary.
package opkind

// Kind is one of the verbatim JSON error tokens named in the error handling
// design. Every error that crosses a component boundary is tagged with
// exactly one Kind; nothing else is allowed to leak into a response body.
type Kind string

const (
	Busy              Kind = "BUSY"
	FileopInProgress  Kind = "FILEOP_IN_PROGRESS"
	NotMounted        Kind = "NOT_MOUNTED"
	BadPath           Kind = "BAD_PATH"
	BadName           Kind = "BAD_NAME"
	PathTooLong       Kind = "PATH_TOO_LONG"
	NameRequired      Kind = "NAME_REQUIRED"
	PathRequired      Kind = "PATH_REQUIRED"
	NewNameRequired   Kind = "NEW_NAME_REQUIRED"
	NoBody            Kind = "NO_BODY"
	NoName            Kind = "NO_NAME"
	NoFilename        Kind = "NO_FILENAME"
	NoContentType     Kind = "NO_CONTENT_TYPE"
	NoBoundary        Kind = "NO_BOUNDARY"
	BoundaryTooLong   Kind = "BOUNDARY_TOO_LONG"
	HeaderTooLarge    Kind = "HEADER_TOO_LARGE"
	BadMultipart      Kind = "BAD_MULTIPART"
	BadBody           Kind = "BAD_BODY"
	NotFound          Kind = "NOT_FOUND"
	FileExists        Kind = "FILE_EXISTS"
	IsDirectory       Kind = "IS_DIRECTORY"
	OpenFail          Kind = "OPEN_FAIL"
	DeleteFail        Kind = "DELETE_FAIL"
	RenameFail        Kind = "RENAME_FAIL"
	MkdirFail         Kind = "MKDIR_FAIL"
	WriteFail         Kind = "WRITE_FAIL"
	RecvFail          Kind = "RECV_FAIL"
	PathFail          Kind = "PATH_FAIL"
	NoMem             Kind = "NO_MEM"
	DetachFail        Kind = "DETACH_FAIL"
	AttachFail        Kind = "ATTACH_FAIL"
)

// HTTPStatus returns the status code the error handling design assigns to
// each kind. Kinds that can surface at more than one status (the "500/423
// as appropriate" group) default to 500; callers that know better construct
// the response themselves instead of relying on this table.
func (k Kind) HTTPStatus() int {
	switch k {
	case Busy, FileopInProgress:
		return 423
	case NotMounted, FileExists, IsDirectory:
		return 409
	case BadPath, BadName, PathTooLong, NameRequired, PathRequired, NewNameRequired,
		NoBody, NoName, NoFilename, NoContentType, NoBoundary, BoundaryTooLong,
		HeaderTooLarge, BadMultipart, BadBody:
		return 400
	case NotFound:
		return 404
	default:
		return 500
	}
}

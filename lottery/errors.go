package lottery

import "golang.org/x/xerrors"

// Every rejected operation wraps one of these errors. The host rolls back
// all writes of the rejected call.
var (
	ErrInvalidParameters = xerrors.New("invalid parameters")
	ErrNotFound          = xerrors.New("not found")
	ErrWindowClosed      = xerrors.New("sales window closed")
	ErrWindowOpen        = xerrors.New("sales window still open")
	ErrCapacityExceeded  = xerrors.New("capacity exceeded")
	ErrValueMismatch     = xerrors.New("value mismatch")
	ErrUnauthorized      = xerrors.New("unauthorized")
	ErrAlreadyDone       = xerrors.New("already done")
	ErrNoSales           = xerrors.New("no tickets sold")
	ErrNoWinner          = xerrors.New("winner not drawn yet")
	ErrDrawPending       = xerrors.New("draw request still pending")
)

// Code returns a short name for the sentinel wrapped by err, or "" when
// err does not wrap any of them.
func Code(err error) string {
	for name, sentinel := range codes {
		if xerrors.Is(err, sentinel) {
			return name
		}
	}
	return ""
}

var codes = map[string]error{
	"InvalidParameters": ErrInvalidParameters,
	"NotFound":          ErrNotFound,
	"WindowClosed":      ErrWindowClosed,
	"WindowOpen":        ErrWindowOpen,
	"CapacityExceeded":  ErrCapacityExceeded,
	"ValueMismatch":     ErrValueMismatch,
	"Unauthorized":      ErrUnauthorized,
	"AlreadyDone":       ErrAlreadyDone,
	"NoSales":           ErrNoSales,
	"NoWinner":          ErrNoWinner,
	"DrawPending":       ErrDrawPending,
}

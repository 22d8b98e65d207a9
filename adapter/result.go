package adapter

// Failure messages reported to the popup.
const (
	ErrSiteNotSupported = "Site not supported"
	ErrButtonNotFound   = "Add to Cart button not found or disabled"
	ErrUnknown          = "Unknown error"
)

// Result is the response to performAddToCart.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func ok() Result { return Result{Success: true} }

func failure(msg string) Result {
	if msg == "" {
		msg = ErrUnknown
	}
	return Result{Success: false, Error: msg}
}

package usb

// NotFoundError means no attached device or port matched, the caller retries later
type NotFoundError struct {
	msg string
}

func (n *NotFoundError) Error() string {
	return n.msg
}

func (n *NotFoundError) Is(e error) bool {
	_, ok := e.(*NotFoundError)
	return ok
}

func NewNotFoundError(msg string) error {
	return &NotFoundError{msg}
}

// VanishedError is returned when a device seen before is gone at reset time
type VanishedError struct {
	msg string
}

func (n *VanishedError) Error() string {
	return n.msg
}

func (n *VanishedError) Is(e error) bool {
	_, ok := e.(*VanishedError)
	return ok
}

func NewVanishedError(msg string) error {
	return &VanishedError{msg}
}

// StuckError describes a receiver that is attached but stopped sending data
type StuckError struct {
	msg string
}

func (s *StuckError) Error() string {
	return s.msg
}

func (s *StuckError) Is(e error) bool {
	_, ok := e.(*StuckError)
	return ok
}

func NewStuckError(msg string) error {
	return &StuckError{msg}
}

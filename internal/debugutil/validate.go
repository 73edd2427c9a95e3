package debugutil

// Validatable is implemented by any allocator component that can run
// internal consistency checks. DebugValidate uses it to turn a returned
// error into a panic under debug builds.
type Validatable interface {
	Validate() error
}

package errors

// Sentinel errors for the error kinds named in the design: each is matched
// with errors.Is, never by type, so wrapping with Wrap/Wrapf along a call
// chain never breaks the comparison.
var (
	// ErrCancelled is returned when a worker observes the progress signal's
	// stop flag and unwinds. Recoverable by resuming the upload or download.
	ErrCancelled = New("cancelled")

	// ErrAuthFailure is returned by the cipher layer when an AEAD tag fails
	// to verify. Fatal for the chunk/container it occurred in.
	ErrAuthFailure = New("chunk authentication failed")

	// ErrOversize is returned when a requested chunk_count * chunk_size
	// would exceed the credential tier's per-attachment cap.
	ErrOversize = New("container exceeds tier attachment size cap")

	// ErrResumeStale is returned when a resume blob's file size or hash no
	// longer matches the file on disk.
	ErrResumeStale = New("resume blob does not match source file")

	// ErrCorrupt is surfaced to the caller when a downloaded chunk fails
	// authentication (the ciphertext itself, not the transport, is bad); the
	// chunk is not fetched again.
	ErrCorrupt = New("corrupt container data")

	// ErrUnavailable is surfaced after a ranged GET exhausts its retry
	// budget without getting a 206 back.
	ErrUnavailable = New("attachment unavailable")

	// ErrUnexpectedEOF is returned when a ranged read request extends past
	// the end of the composed stream.
	ErrUnexpectedEOF = New("unexpected end of input")
)

package storage

import "os"

const (
	fileFlagsReader   = os.O_RDONLY
	fileFlagsEditor   = os.O_RDWR | os.O_CREATE
	fileFlagsAppender = os.O_WRONLY | os.O_CREATE | os.O_APPEND
)

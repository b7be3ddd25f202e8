package executor

import "github.com/birddigital/callbridge/internal/interfaces"

var (
	_ interfaces.Executor = (*SubprocessExecutor)(nil)
	_ interfaces.Executor = (*HTTPExecutor)(nil)
)

package convert

import (
	"go.uber.org/zap"

	"github.com/BaSui01/hunyuan3d/manager"
)

// New returns an ExecConverter when command is set, otherwise a CopyConverter.
func New(command string, args []string, logger *zap.Logger) manager.Converter {
	if command == "" {
		return CopyConverter{}
	}
	return NewExecConverter(command, args, logger)
}

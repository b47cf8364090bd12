package pipeline

import (
	"errors"

	"avatarreel/internal/fileutil"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

func promote(src, dst string, overwrite bool) error {
	const op = "promote output"
	if err := fileutil.Promote(src, dst, overwrite); err != nil {
		if errors.Is(err, fileutil.ErrDestinationExists) {
			return services.Wrap(services.ErrInvalidConfig, string(stage.Encode), op,
				"destination appeared while the run was in progress", err)
		}
		return services.Wrap(services.ErrEncoding, string(stage.Encode), op, "could not move output into place", err)
	}
	return nil
}

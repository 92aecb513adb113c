package convert

import "context"

// Converter turns the PDF at inputPath into a file at outputPath.
// Implementations must not leave a partial outputPath behind on error.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// ConverterFunc adapts a plain function to Converter.
type ConverterFunc func(ctx context.Context, inputPath, outputPath string) error

func (f ConverterFunc) Convert(ctx context.Context, inputPath, outputPath string) error {
	return f(ctx, inputPath, outputPath)
}

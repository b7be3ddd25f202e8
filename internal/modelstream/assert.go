package modelstream

var (
	_ ModelStream = (*VariantA)(nil)
	_ ModelStream = (*VariantB)(nil)
)

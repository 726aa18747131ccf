package docmap

import "strings"

// SplitID splits a composite identifier into its segments: the document
// identifier first, then one sub-document key per container level. Purely
// syntactic; no segment is validated.
func (c *Collection[T]) SplitID(id string) []string {
	return strings.Split(id, c.b.sep())
}

// ComposeID joins identifier segments with the collection's separator, the
// inverse of SplitID. Segments must not contain the separator; generated
// sub-document keys never do.
func (c *Collection[T]) ComposeID(segments ...string) string {
	return strings.Join(segments, c.b.sep())
}

func (d *Document) composeID(segments []string) (string, error) {
	id, err := d.ID()
	if err != nil {
		return "", err
	}
	return strings.Join(append([]string{id}, segments...), d.b.sep()), nil
}

package op

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// OpLink routes the value of an output field into an input field.
type OpLink struct {
	src      *OpNode
	srcField *Field
	dst      *OpNode
	dstField *Field
}

// NewOpLink connects src.srcKey to dst.dstKey. Both fields must exist and the
// destination must accept what the source produces.
func NewOpLink(src *OpNode, srcKey string, dst *OpNode, dstKey string) (*OpLink, error) {
	if src == nil || dst == nil {
		return nil, errors.NotValidf("link with nil node")
	}
	srcField, exists := src.Output(srcKey)
	if !exists {
		return nil, errors.Annotatef(ErrFieldNotFound, "output %s on %s", srcKey, src)
	}
	dstField, exists := dst.Input(dstKey)
	if !exists {
		return nil, errors.Annotatef(ErrFieldNotFound, "input %s on %s", dstKey, dst)
	}
	if !dstField.Accepts(srcField) {
		return nil, errors.Annotatef(ErrIncompatibleFields, "%s.%s (%v) -> %s.%s (%v)",
			src, srcKey, srcField.Type, dst, dstKey, dstField.Type)
	}
	return &OpLink{src: src, srcField: srcField, dst: dst, dstField: dstField}, nil
}

func (l *OpLink) Source() *OpNode {
	return l.src
}

func (l *OpLink) Destination() *OpNode {
	return l.dst
}

func (l *OpLink) SourceField() *Field {
	return l.srcField
}

func (l *OpLink) DestinationField() *Field {
	return l.dstField
}

func (l *OpLink) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", l.src.Name(), l.srcField.Key, l.dst.Name(), l.dstField.Key)
}

// CompareLinks orders links by source node, destination node, source key
// and destination key, using cmp for the nodes.
func CompareLinks(a, b *OpLink, cmp func(a, b *OpNode) int) int {
	if c := cmp(a.src, b.src); c != 0 {
		return c
	}
	if c := cmp(a.dst, b.dst); c != 0 {
		return c
	}
	if c := strings.Compare(a.srcField.Key, b.srcField.Key); c != 0 {
		return c
	}
	return strings.Compare(a.dstField.Key, b.dstField.Key)
}

package vcdiff

import (
	"bytes"
	"fmt"
)

// decodeNestedCodeTable decodes a custom code table image from reader: the
// bytes there are a VCDIFF delta against codeTableMetaDictionary (the
// "code table of code tables" - spec.md section 9), which produces exactly
// CodeTableImageSize bytes of target. recursionBudget guards against a
// custom code table that itself carries a custom code table; the meta
// decode always uses the default table and default address cache geometry,
// so it can never recurse more than once in practice, but the guard is
// checked regardless.
func decodeNestedCodeTable(reader *bytes.Reader, recursionBudget int) (*CodeTable, error) {
	if recursionBudget < 0 {
		return nil, fmt.Errorf("%w: custom code table recursion guard exceeded", ErrPolicyViolation)
	}

	image, err := decodeWindowsUntil(reader, codeTableMetaDictionary, DefaultCodeTable, DefaultNearSize, DefaultSameSize, false, CodeTableImageSize)
	if err != nil {
		return nil, err
	}

	return CodeTableFromImage(image)
}

// decodeWindowsUntil decodes successive delta windows from reader against
// dictionary until exactly targetLimit bytes of target have been produced,
// then stops, leaving reader positioned immediately after the last window
// it consumed. Used both here (nested code table image, targetLimit fixed
// at CodeTableImageSize) and available to any other fixed-size embedded
// decode a future extension might add.
func decodeWindowsUntil(reader *bytes.Reader, dictionary []byte, codeTable *CodeTable, nearSize, sameSize int, allowVCDTarget bool, targetLimit int) ([]byte, error) {
	target := make([]byte, 0, targetLimit)
	addressCache := NewAddressCache(nearSize, sameSize)

	for len(target) < targetLimit {
		window := Window{}
		if err := parseWindow(reader, &window); err != nil {
			return nil, errTruncatedStream("decoding nested code table image")
		}

		sourceSegment, err := sourceSegmentFor(&window, dictionary, target, allowVCDTarget)
		if err != nil {
			return nil, err
		}

		windowTarget, err := runWindow(&window, codeTable, sourceSegment, addressCache)
		if err != nil {
			return nil, err
		}
		target = append(target, windowTarget...)
	}

	if len(target) != targetLimit {
		return nil, errFramedLengthMismatch(targetLimit, len(target))
	}

	return target, nil
}

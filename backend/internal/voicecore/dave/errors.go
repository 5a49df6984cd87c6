package dave

import "errors"

var errTruncatedULEB128 = errors.New("dave: truncated ULEB128 nonce")

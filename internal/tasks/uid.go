package tasks

import (
	"fmt"

	"github.com/sqids/sqids-go"
)

// uidAlphabet is a fixed shuffle so encoded ids are stable across releases.
const uidAlphabet = "RBgHuE5stw6UbcCoZJiamLkyYnqV1xSO8efMhzXK3vI9F27WPrd0jA4lGTNpQD"

var uidCoder = func() *sqids.Sqids {
	s, err := sqids.New(sqids.Options{
		Alphabet:  uidAlphabet,
		MinLength: 8,
	})
	if err != nil {
		panic(fmt.Sprintf("tasks: init uid coder: %v", err))
	}
	return s
}()

// UIDEncode obfuscates an internal row id into a public task identifier.
// The mapping is a bijection: UIDDecode(UIDEncode(n)) == n.
func UIDEncode(id int64) string {
	encoded, err := uidCoder.Encode([]uint64{uint64(id)})
	if err != nil {
		// Encode only fails on negative input, which row ids never are.
		return ""
	}
	return encoded
}

// UIDDecode reverses UIDEncode.
func UIDDecode(uid string) (int64, error) {
	nums := uidCoder.Decode(uid)
	if len(nums) != 1 {
		return 0, fmt.Errorf("invalid task uid %q", uid)
	}
	// Reject non-canonical encodings of the same number.
	if UIDEncode(int64(nums[0])) != uid {
		return 0, fmt.Errorf("invalid task uid %q", uid)
	}
	return int64(nums[0]), nil
}

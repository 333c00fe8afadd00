package vectorstore

import "github.com/google/uuid"

var pointNamespace = uuid.MustParse("8f1c2d44-9a6b-4e0f-b1a3-5c7d9e2f4a61")

// deterministicUUID maps an arbitrary key to a stable UUIDv5 so upserts for
// the same user and kind always target the same point.
func deterministicUUID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

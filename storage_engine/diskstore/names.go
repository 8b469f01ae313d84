package diskstore

import (
	"EmberDB/types"
	"fmt"
	"strconv"
	"strings"
)

const pagePrefix = "page_"

func PageBlobName(id types.PageId) string {
	return fmt.Sprintf("%s%d", pagePrefix, id)
}

// parsePageBlobName reports the page id for a page blob name, or false
// for artifact blobs.
func parsePageBlobName(name string) (types.PageId, bool) {
	if !strings.HasPrefix(name, pagePrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(name[len(pagePrefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return types.PageId(n), true
}

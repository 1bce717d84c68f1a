package store

import "strconv"

// Logical key namespace under the K/V backend. Image keys are addressed by
// sortable id so lexical scans over the time index stay in creation order.
const (
	domain = "gazou"

	imagesKey      = domain + ":images:images"
	tagNamesKey    = domain + ":tags"
	artistNamesKey = domain + ":artists"
	hashesKey      = domain + ":hashes"

	tagCounterKey    = domain + ":tags:nextId"
	artistCounterKey = domain + ":artists:nextId"

	userNamesKey = domain + ":users"
)

func metadataKey(sortable string) string {
	return imagesKey + ":" + sortable + ":metadata"
}

func imageTagsKey(sortable string) string {
	return imagesKey + ":" + sortable + ":tags"
}

func tagImagesKey(tagID int64) string {
	return domain + ":search:tagImages:" + strconv.FormatInt(tagID, 10)
}

func artistImagesKey(artistID int64) string {
	return domain + ":search:artistImages:" + strconv.FormatInt(artistID, 10)
}

func uploaderKey(userID string) string {
	return domain + ":uploaders:" + userID
}

func intersectionMetadataKey(slot string) string {
	return domain + ":search:tagIntersections:" + slot + ":metadata"
}

func intersectionTagsKey(slot string) string {
	return domain + ":search:tagIntersections:" + slot + ":tags"
}

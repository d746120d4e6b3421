package mirror

// topicPrefix roots every mirrored topic.
const topicPrefix = "rigcore"

// StateTopic returns the retained state topic for one device.
//
// Example: rigcore/state/laser0
func StateTopic(uid string) string {
	return topicPrefix + "/state/" + uid
}

// StatusTopic returns the mirror's own online/offline status topic.
func StatusTopic() string {
	return topicPrefix + "/system/status"
}

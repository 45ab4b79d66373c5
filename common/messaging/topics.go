package messaging

import "strings"

// Topic filters the board subscribes to. Captures from "+" segments are
// delivered to handlers in order: {env}, {job} for the per-job channels and
// {version} for release notes.
const (
	TopicVersion           = "dashboard/WonScore/Deployments/version"
	TopicReleaseNotes      = "dashboard/WonScore/Deployments/ReleaseNotes/+"
	TopicServicesChecking  = "AWS-WonScore/ECS/services/checking"
	TopicServicesLastCheck = "AWS-WonScore/ECS/services/lastCheckedOn"
	TopicServicesRate      = "AWS-WonScore/ECS/services/refreshRate"
	TopicDeploymentStatus  = "AWS-WonScore/ECS/services/+/+/deploymentStatus"
	TopicBuildStatus       = "Jenkins/+/+/status"
	TopicBuildInQueueSince = "Jenkins/+/+/inQueueSince"
)

// Topics the board publishes to.
const (
	TopicServicesRefresh = "AWS-WonScore/ECS/services/refresh"

	// FastestRefreshRate is the payload of a boost request, in seconds.
	FastestRefreshRate = "10"
)

// Separator divides topic segments.
const Separator = "/"

// ReleaseNotesTopic returns the topic carrying the notes for version.
func ReleaseNotesTopic(version string) string {
	return strings.TrimSuffix(TopicReleaseNotes, "+") + version
}

// DeploymentStatusTopic returns the deployment status topic for a job in env.
func DeploymentStatusTopic(env, job string) string {
	return "AWS-WonScore/ECS/services/" + env + Separator + job + "/deploymentStatus"
}

// BuildStatusTopic returns the build status topic for a job in env.
func BuildStatusTopic(env, job string) string {
	return "Jenkins/" + env + Separator + job + "/status"
}

// BuildInQueueSinceTopic returns the queue-entry-time topic for a job in env.
func BuildInQueueSinceTopic(env, job string) string {
	return "Jenkins/" + env + Separator + job + "/inQueueSince"
}

package activity

import (
	"context"

	log "github.com/sirupsen/logrus"

	"taskforge-board/domain"
)

// LogSink writes activities to the process log. It stands in for the queue
// when no ACTIVITY_QUEUE is configured.
type LogSink struct {
	Log *log.Logger
}

func (s LogSink) Record(_ context.Context, a domain.Activity) error {
	s.Log.WithFields(log.Fields{
		"activityId": a.ID,
		"type":       a.Kind,
		"userId":     a.ActorID,
		"projectId":  a.ProjectID,
		"boardId":    a.BoardID,
		"taskId":     a.TaskID,
	}).Info(a.Description)
	return nil
}

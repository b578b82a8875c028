// Package notifications is a multi-channel notification delivery engine.
//
// A Request ("notify user X of event Y") is validated, filtered through the
// recipient's Preferences into an effective channel set, stored, and then
// dispatched to every channel concurrently: in_app, email, sms, push,
// webhook and slack. Failed channels are retried with exponential backoff
// up to RetryPolicy.MaxAttempts; other channels are never affected.
//
// # Architecture
//
//   - Storage, PreferencesStore, TemplateStore: persistence (memory
//     implementations here, Postgres and MongoDB in sub-packages)
//   - Resolver: effective channels and quiet-hours deferral
//   - Scheduler: deferred dispatch and retry jobs (MemoryScheduler here,
//     a durable Redis scheduler in redisqueue)
//   - Dispatcher: concurrent per-channel delivery and the retry state machine
//   - EventNotifier: typed lifecycle events over a broadcast.Broadcaster
//   - Manager: the public operations
//
// # Basic Usage
//
//	manager := notifications.NewManager(notifications.NewMemoryStorage(),
//		notifications.WithSenders(notifications.Senders{Email: mailer}),
//		notifications.WithDirectory(directory),
//	)
//	if err := manager.Start(ctx); err != nil {
//		return err
//	}
//	defer manager.Stop()
//
//	n, err := manager.Send(ctx, notifications.Request{
//		UserID:   "student-42",
//		Title:    "New grade posted",
//		Message:  "Your algebra test has been graded.",
//		Type:     notifications.TypeGrade,
//		Category: notifications.CategoryAcademic,
//		Channels: []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail},
//	})
//
// Send returns once the notification is stored; delivery outcomes are
// visible through Notification.Delivery and EventDelivered / EventFailed
// events.
//
// # Quiet Hours
//
// Notifications below critical priority that would be delivered inside the
// recipient's quiet-hours window are scheduled for the end of the window.
// Windows may cross midnight ("22:00" to "07:00").
package notifications

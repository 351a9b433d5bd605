// Package mocks provides mock implementations for testing the outreach delivery system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mocks for the persistence interfaces from internal/core.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=repositories_mock.go github.com/procurely/outreach/internal/core JobRepository,ReaperRepository,CampaignRepository,SequenceRepository,MetricRepository,BudgetRepository,SuppressionRepository

// Generate mocks for the collaborator interfaces from internal/core.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=collaborators_mock.go github.com/procurely/outreach/internal/core StatsCache,AudienceResolver,TemplateRenderer,DeliveryProvider,RecipientStateQuery

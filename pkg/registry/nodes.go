package registry

import (
	"net/http"

	"github.com/dukex/conduit/pkg/llm"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/nodes/action"
	"github.com/dukex/conduit/pkg/nodes/approval"
	"github.com/dukex/conduit/pkg/nodes/condition"
	"github.com/dukex/conduit/pkg/nodes/delay"
	"github.com/dukex/conduit/pkg/nodes/end"
	"github.com/dukex/conduit/pkg/nodes/llmagent"
	"github.com/dukex/conduit/pkg/nodes/transform"
	"github.com/dukex/conduit/pkg/nodes/trigger"
)

// Dependencies are the external collaborators of the built-in executors.
// Nil collaborators disable the adapters that need them.
type Dependencies struct {
	HTTPClient  *http.Client
	QueryRunner action.QueryRunner
	EmailSender action.EmailSender
	LLMProvider llm.Provider
}

// RegisterDefaultNodes registers an executor for every built-in node kind.
func (r *Registry) RegisterDefaultNodes(deps Dependencies) {
	var actionOptions []action.Option

	if deps.HTTPClient != nil {
		actionOptions = append(actionOptions, action.WithHTTPClient(deps.HTTPClient))
	}

	if deps.QueryRunner != nil {
		actionOptions = append(actionOptions, action.WithQueryRunner(deps.QueryRunner))
	}

	if deps.EmailSender != nil {
		actionOptions = append(actionOptions, action.WithEmailSender(deps.EmailSender))
	}

	provider := deps.LLMProvider
	if provider == nil {
		provider = llm.Unavailable{}
	}

	r.Register(models.NodeKindTrigger, trigger.NewExecutor())
	r.Register(models.NodeKindAction, action.NewExecutor(actionOptions...))
	r.Register(models.NodeKindCondition, condition.NewExecutor())
	r.Register(models.NodeKindTransform, transform.NewExecutor())
	r.Register(models.NodeKindDelay, delay.NewExecutor())
	r.Register(models.NodeKindHumanApproval, approval.NewExecutor())
	r.Register(models.NodeKindLLMAgent, llmagent.NewExecutor(provider))
	r.Register(models.NodeKindEnd, end.NewExecutor())
}

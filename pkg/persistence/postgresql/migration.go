package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Execution records and per-node state
			CREATE TYPE execution_status AS ENUM ('pending', 'running', 'success', 'error');

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				status execution_status NOT NULL,
				is_test BOOLEAN NOT NULL DEFAULT false,
				cancelled BOOLEAN NOT NULL DEFAULT false,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at);

			CREATE TABLE node_executions (
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				output JSONB,
				metadata JSONB,
				error_message TEXT,
				retry_count INT NOT NULL DEFAULT 0,
				retry_attempts JSONB NOT NULL DEFAULT '[]',
				continued_on_error BOOLEAN NOT NULL DEFAULT false,
				original_error TEXT,
				PRIMARY KEY (execution_id, node_id),
				CHECK (status IN ('pending', 'running', 'success', 'error', 'skipped', 'cancelled')),
				CHECK (retry_count = jsonb_array_length(retry_attempts))
			);

			CREATE INDEX idx_node_executions_status ON node_executions(status);
		`,
		2: `
			-- Pipeline context log
			CREATE TABLE context_entries (
				execution_id UUID NOT NULL,
				sequence BIGINT NOT NULL,
				key VARCHAR(512) NOT NULL,
				value JSONB,
				producing_node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				summary TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (execution_id, sequence)
			);

			CREATE INDEX idx_context_entries_key ON context_entries(execution_id, key);

			CREATE TABLE context_artifacts (
				execution_id UUID NOT NULL,
				id VARCHAR(255) NOT NULL,
				type VARCHAR(100) NOT NULL,
				content TEXT NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (execution_id, id)
			);
		`,
		3: `
			-- Budget counters and spend ledger
			CREATE TABLE user_budgets (
				user_id VARCHAR(255) PRIMARY KEY,
				daily_limit_usd NUMERIC(18, 8) NOT NULL,
				monthly_limit_usd NUMERIC(18, 8) NOT NULL,
				alert_threshold_percent NUMERIC(5, 2) NOT NULL DEFAULT 80,
				daily_spend_usd NUMERIC(18, 8) NOT NULL DEFAULT 0,
				monthly_spend_usd NUMERIC(18, 8) NOT NULL DEFAULT 0,
				day_window VARCHAR(10) NOT NULL,
				month_window VARCHAR(7) NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE spending_records (
				id BIGSERIAL PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				execution_id VARCHAR(255),
				node_id VARCHAR(255),
				model VARCHAR(255),
				amount_usd NUMERIC(18, 8) NOT NULL,
				input_tokens INT NOT NULL DEFAULT 0,
				output_tokens INT NOT NULL DEFAULT 0,
				applied BOOLEAN NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_spending_records_user_created ON spending_records(user_id, created_at);
		`,
	}
}

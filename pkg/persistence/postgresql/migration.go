package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE checkpoints (
				checkpoint_id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				label VARCHAR(255),
				type VARCHAR(50) NOT NULL CHECK (type IN ('manual', 'auto')),
				blob BYTEA,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_checkpoints_workflow_id ON checkpoints(workflow_id);
			CREATE INDEX idx_checkpoints_created_at ON checkpoints(created_at);

			CREATE TABLE contracts (
				id VARCHAR(255) PRIMARY KEY,
				team_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				version INT NOT NULL,
				type VARCHAR(100),
				specification JSONB NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'retired')),
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				activated_at TIMESTAMP WITH TIME ZONE,
				retired_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_contracts_team_name ON contracts(team_id, name);
			CREATE INDEX idx_contracts_status ON contracts(status);
			CREATE UNIQUE INDEX idx_contracts_one_active
				ON contracts(team_id, name) WHERE status = 'active';

			CREATE TABLE artifacts (
				phase VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				data BYTEA,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (phase, name)
			);
		`,
	}
}

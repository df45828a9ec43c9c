package journal

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	pair TEXT NOT NULL,
	amount TEXT NOT NULL,
	sell_price TEXT NOT NULL,
	profit TEXT NOT NULL,
	margin REAL NOT NULL,
	dca_level INTEGER NOT NULL,
	sell_date DATETIME NOT NULL,
	result TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_sell_date ON trades(sell_date);
CREATE INDEX IF NOT EXISTS idx_trades_pair ON trades(pair);
`

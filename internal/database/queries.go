/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	// User queries
	queryGetActiveUsers = `
		SELECT id, name, email, created_at, updated_at
		FROM users
		WHERE active = 1
		ORDER BY created_at`

	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, name, email, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	queryGetUserById = `
		SELECT id, name, email, created_at, updated_at
		FROM users
		WHERE id = ? AND active = 1`

	// Balance queries
	queryGetAccountBalance = `
		SELECT id, user_id, asset, available, locked, COALESCE(last_entry_id, ''), version, updated_at
		FROM account_balances
		WHERE user_id = ? AND asset = ?`

	queryGetAllUserBalances = `
		SELECT id, user_id, asset, available, locked, COALESCE(last_entry_id, ''), version, updated_at
		FROM account_balances
		WHERE user_id = ?
		ORDER BY asset`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, user_id, asset, available, locked, version, updated_at)
		VALUES (?, ?, ?, '0', '0', 1, ?)`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET available = ?, locked = ?, last_entry_id = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND asset = ? AND version = ?`

	// Ledger entry queries
	queryCheckDuplicateEntry = `
		SELECT id FROM ledger_entries
		WHERE entry_type = ? AND reference = ? AND user_id = ? AND asset = ?
		LIMIT 1`

	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries (
			id, user_id, asset, entry_type, available_delta, locked_delta,
			available_before, available_after, locked_before, locked_after, reference, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetLedgerHistory = `
		SELECT id, user_id, asset, entry_type, available_delta, locked_delta,
		       available_before, available_after, locked_before, locked_after, reference, created_at
		FROM ledger_entries
		WHERE user_id = ? AND asset = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	queryGetLedgerDeltas = `
		SELECT available_delta, locked_delta
		FROM ledger_entries
		WHERE user_id = ? AND asset = ?`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, entry_id, account_type, account_id, debit_amount, credit_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	// Catalog queries
	queryUpsertCryptocurrency = `
		INSERT INTO cryptocurrencies (symbol, name, network, required_confirmations, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			network = excluded.network,
			required_confirmations = excluded.required_confirmations,
			active = excluded.active`

	queryGetCryptocurrency = `
		SELECT symbol, name, network, required_confirmations, active
		FROM cryptocurrencies
		WHERE symbol = ?`

	querySetCryptocurrencyActive = `
		UPDATE cryptocurrencies SET active = ? WHERE symbol = ?`

	queryUpsertPaymentMethod = `
		INSERT INTO payment_methods (id, symbol, network, wallet_address, min_amount, max_amount, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			network = excluded.network,
			wallet_address = excluded.wallet_address,
			min_amount = excluded.min_amount,
			max_amount = excluded.max_amount,
			active = excluded.active`

	queryGetPaymentMethod = `
		SELECT id, symbol, network, wallet_address, min_amount, max_amount, active
		FROM payment_methods
		WHERE id = ?`

	queryListPaymentMethods = `
		SELECT id, symbol, network, wallet_address, min_amount, max_amount, active
		FROM payment_methods
		ORDER BY symbol, id`

	querySetPaymentMethodActive = `
		UPDATE payment_methods SET active = ? WHERE id = ?`

	queryUpsertWithdrawalFee = `
		INSERT INTO withdrawal_fees (asset, flat, percent) VALUES (?, ?, ?)
		ON CONFLICT(asset) DO UPDATE SET flat = excluded.flat, percent = excluded.percent`

	queryGetWithdrawalFee = `
		SELECT asset, flat, percent FROM withdrawal_fees WHERE asset = ?`

	// Deposit queries
	queryCheckDuplicateDepositHash = `
		SELECT id FROM deposits WHERE symbol = ? AND tx_hash = ? LIMIT 1`

	queryInsertDeposit = `
		INSERT INTO deposits (
			id, user_id, payment_method_id, symbol, network, expected_amount,
			proof_type, tx_hash, proof_image, status, confirmations, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`

	depositColumns = `
		id, user_id, payment_method_id, symbol, network, expected_amount, actual_amount, credited_amount,
		proof_type, COALESCE(tx_hash, ''), COALESCE(proof_image, ''), status, confirmations,
		COALESCE(verification_error, ''), verified_at, created_at, updated_at, version`

	queryGetDeposit = `SELECT ` + depositColumns + ` FROM deposits WHERE id = ?`

	queryListDeposits = `SELECT ` + depositColumns + `
		FROM deposits
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	queryTransitionDeposit = `
		UPDATE deposits
		SET status = ?, confirmations = ?, actual_amount = ?, credited_amount = ?,
		    verification_error = ?, verified_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = ?`

	queryInsertDepositEvent = `
		INSERT INTO deposit_events (id, deposit_id, status, confirmations, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryListDepositEvents = `
		SELECT id, deposit_id, status, confirmations, note, created_at
		FROM deposit_events
		WHERE deposit_id = ?
		ORDER BY created_at, id`

	// Withdrawal queries
	queryInsertWithdrawal = `
		INSERT INTO withdrawals (
			id, user_id, asset, gross_amount, fee, net_amount, destination_type, destination,
			status, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`

	withdrawalColumns = `
		id, user_id, asset, gross_amount, fee, net_amount, destination_type, destination,
		COALESCE(tx_hash, ''), status, processed_at, created_at, updated_at, version`

	queryGetWithdrawal = `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = ?`

	queryListWithdrawals = `SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	queryListPendingWithdrawals = `SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT ?`

	queryTransitionWithdrawal = `
		UPDATE withdrawals
		SET status = ?, tx_hash = ?, processed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = 'pending'`

	// Offer queries
	queryInsertOffer = `
		INSERT INTO offers (
			id, user_id, side, coin, price, available_amount, min_amount, max_amount,
			payment_methods, terms, active, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, 1)`

	offerColumns = `
		o.id, o.user_id, COALESCE(u.name, ''), o.side, o.coin, o.price, o.available_amount,
		o.min_amount, o.max_amount, o.payment_methods, o.terms, o.active, o.created_at, o.updated_at, o.version`

	queryGetOffer = `SELECT ` + offerColumns + `
		FROM offers o LEFT JOIN users u ON u.id = o.user_id
		WHERE o.id = ?`

	queryListOffers = `SELECT ` + offerColumns + `
		FROM offers o LEFT JOIN users u ON u.id = o.user_id
		WHERE o.active = 1
		  AND (? = '' OR o.coin = ?)
		  AND (? = '' OR LOWER(COALESCE(u.name, '')) LIKE ? OR LOWER(o.payment_methods) LIKE ? OR LOWER(o.terms) LIKE ?)
		ORDER BY o.created_at DESC, o.id`

	querySetOfferActive = `
		UPDATE offers SET active = ?, updated_at = ?, version = version + 1 WHERE id = ?`

	queryGetOfferCapacity = `
		SELECT available_amount, version, active FROM offers WHERE id = ?`

	queryUpdateOfferCapacity = `
		UPDATE offers
		SET available_amount = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`

	// Trade queries
	queryInsertTrade = `
		INSERT INTO trades (
			id, offer_id, buyer_id, seller_id, coin, price, amount_usd, crypto_amount,
			status, expires_at, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`

	tradeColumns = `
		id, offer_id, buyer_id, seller_id, coin, price, amount_usd, crypto_amount, status,
		expires_at, paid_at, completed_at, COALESCE(disputed_by, ''), COALESCE(dispute_reason, ''),
		created_at, updated_at, version`

	queryGetTrade = `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`

	queryListExpiredTrades = `SELECT ` + tradeColumns + `
		FROM trades
		WHERE status = 'pending' AND expires_at <= ?
		ORDER BY expires_at, id
		LIMIT ?`

	queryTransitionTrade = `
		UPDATE trades
		SET status = ?, paid_at = ?, completed_at = ?, disputed_by = ?, dispute_reason = ?,
		    updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = ?`

	// Message queries
	queryInsertMessage = `
		INSERT INTO trade_messages (id, trade_id, sender_id, body, created_at) VALUES (?, ?, ?, ?, ?)`

	queryListMessages = `
		SELECT id, trade_id, sender_id, body, created_at
		FROM trade_messages
		WHERE trade_id = ?
		ORDER BY created_at, id`
)

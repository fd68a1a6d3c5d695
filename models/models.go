package models

// Database schema overview:
// 1. users - accounts resolved by the auth middleware (bearer token or cookie)
// 2. refresh_tokens - hashed long-lived tokens used to mint new access tokens
// 3. credit_balances - one row per user, debited when a mock interview starts
// 4. visa_mock_sessions - one mock visa interview; at most one active per user
// 5. visa_mock_turns - ordered question/answer exchanges of a session
//
// Feedback is not a table of its own: it is stored as JSON on the session row
// once the interview is finalized.

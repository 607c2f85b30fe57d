package directory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrun/internal/domain/directory"
	"payrun/internal/domain/payroll"
	cryptoutil "payrun/internal/platform/crypto"
	"payrun/internal/platform/db"
)

var march = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool, filepath.Join("..", "..", "..", "migrations")))
	return pool
}

func exec(t *testing.T, pool *pgxpool.Pool, sql string, args ...any) {
	t.Helper()
	_, err := pool.Exec(context.Background(), sql, args...)
	require.NoError(t, err)
}

func money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestStoreReadsEmployeesAndBankStatus(t *testing.T) {
	pool := testPool(t)
	crypto, err := cryptoutil.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	store := directory.NewStore(pool, crypto)
	ctx := context.Background()
	entity := "dir-test-" + uuid.NewString()

	plain := entity + "-plain"
	sealed := entity + "-sealed"
	nobank := entity + "-nobank"
	nosalary := entity + "-nosalary"
	left := entity + "-left"

	salaryEnc, err := crypto.EncryptString("6100.00")
	require.NoError(t, err)
	bankEnc, err := crypto.EncryptString("GB82WEST12345698765432")
	require.NoError(t, err)

	exec(t, pool, `INSERT INTO employees (id, entity, base_salary, bank_account) VALUES ($1, $2, 4000.00, 'DE89 3704 0044 0532 0130 00')`, plain, entity)
	exec(t, pool, `INSERT INTO employees (id, entity, salary_enc, bank_account_enc) VALUES ($1, $2, $3, $4)`, sealed, entity, salaryEnc, bankEnc)
	exec(t, pool, `INSERT INTO employees (id, entity, base_salary) VALUES ($1, $2, 2500.00)`, nobank, entity)
	exec(t, pool, `INSERT INTO employees (id, entity, bank_account) VALUES ($1, $2, '0012345678')`, nosalary, entity)
	exec(t, pool, `INSERT INTO employees (id, entity, status, base_salary) VALUES ($1, $2, 'terminated', 1000.00)`, left, entity)

	ids, err := store.ListEmployeesInScope(ctx, entity)
	require.NoError(t, err)
	assert.Equal(t, []string{nobank, nosalary, plain, sealed}, ids)

	employee, err := store.GetEmployee(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, entity, employee.Entity)
	assert.True(t, money("4000").Equal(employee.BaseSalary))
	assert.Equal(t, payroll.BankStatusValid, employee.BankStatus)

	employee, err = store.GetEmployee(ctx, sealed)
	require.NoError(t, err)
	assert.True(t, money("6100").Equal(employee.BaseSalary))
	assert.Equal(t, payroll.BankStatusValid, employee.BankStatus)

	employee, err = store.GetEmployee(ctx, nobank)
	require.NoError(t, err)
	assert.Equal(t, payroll.BankStatusMissing, employee.BankStatus)

	_, err = store.GetEmployee(ctx, nosalary)
	assert.ErrorIs(t, err, payroll.ErrMissingEmployeeData)

	_, err = store.GetEmployee(ctx, entity+"-unknown")
	assert.ErrorIs(t, err, payroll.ErrEmployeeNotFound)
}

func TestStoreReadsPeriodInputs(t *testing.T) {
	pool := testPool(t)
	store := directory.NewStore(pool, nil)
	ctx := context.Background()
	entity := "dir-test-" + uuid.NewString()
	employeeID := entity + "-emp"
	february := march.AddDate(0, -1, 0)

	exec(t, pool, `INSERT INTO employees (id, entity, base_salary, bank_account) VALUES ($1, $2, 5000.00, '0012345678')`, employeeID, entity)
	exec(t, pool, `
    INSERT INTO compensation_lines (employee_id, kind, name, amount, rate, period, active) VALUES
      ($1, 'allowance', 'meal', 200.00, NULL, NULL, true),
      ($1, 'bonus', 'q1', 500.00, NULL, $2, true),
      ($1, 'bonus', 'q4', 900.00, NULL, $3, true),
      ($1, 'tax', 'income', NULL, 10.0000, NULL, true),
      ($1, 'insurance', 'health', NULL, 2.5000, NULL, true),
      ($1, 'penalty', 'late', 50.00, NULL, $2, true),
      ($1, 'refund', 'travel', 80.00, NULL, NULL, false)
  `, employeeID, march, february)
	exec(t, pool, `
    INSERT INTO leave_requests (employee_id, start_date, end_date, start_half, end_half, is_paid, status) VALUES
      ($1, '2025-03-10', '2025-03-12', false, true, false, 'approved'),
      ($1, '2025-02-27', '2025-03-02', true, false, false, 'approved'),
      ($1, '2025-03-20', '2025-03-21', false, false, false, 'pending'),
      ($1, '2025-03-24', '2025-03-25', false, false, true, 'approved')
  `, employeeID)
	exec(t, pool, `
    INSERT INTO hr_events (employee_id, event_type, effective_date) VALUES
      ($1, 'promotion', '2025-03-15'),
      ($1, 'promotion', '2025-03-16'),
      ($1, 'termination', '2025-04-01')
  `, employeeID)

	comp, err := store.GetCompensation(ctx, employeeID, march)
	require.NoError(t, err)
	require.Len(t, comp.Allowances, 1)
	require.Len(t, comp.Bonuses, 1)
	assert.Equal(t, "q1", comp.Bonuses[0].Name)
	assert.True(t, money("500").Equal(comp.Bonuses[0].Amount))
	require.Len(t, comp.Taxes, 1)
	assert.True(t, money("10").Equal(comp.Taxes[0].Rate))
	require.Len(t, comp.Insurances, 1)
	assert.True(t, money("2.5").Equal(comp.Insurances[0].EmployeeRate))
	require.Len(t, comp.Penalties, 1)
	assert.Equal(t, "late", comp.Penalties[0].Reason)
	assert.Empty(t, comp.Refunds)

	days, err := store.GetUnpaidLeaveDays(ctx, employeeID, march)
	require.NoError(t, err)
	assert.True(t, money("4.5").Equal(days), "unpaid days %s", days)

	events, err := store.GetHREvents(ctx, employeeID, march)
	require.NoError(t, err)
	assert.Equal(t, []string{"promotion"}, events)

	disputed, err := store.HasUnresolvedDisputes(ctx, employeeID, march)
	require.NoError(t, err)
	assert.False(t, disputed)

	exec(t, pool, `INSERT INTO disputes (employee_id, status, period) VALUES ($1, 'resolved', $2)`, employeeID, march)
	exec(t, pool, `INSERT INTO disputes (employee_id, status, period) VALUES ($1, 'open', $2)`, employeeID, february)
	disputed, err = store.HasUnresolvedDisputes(ctx, employeeID, march)
	require.NoError(t, err)
	assert.False(t, disputed)

	exec(t, pool, `INSERT INTO disputes (employee_id, status) VALUES ($1, 'open')`, employeeID)
	disputed, err = store.HasUnresolvedDisputes(ctx, employeeID, march)
	require.NoError(t, err)
	assert.True(t, disputed)
}

func TestStorePreviousNetPayUsesLatestApprovedRun(t *testing.T) {
	pool := testPool(t)
	store := directory.NewStore(pool, nil)
	runs := payroll.NewStore(pool)
	ctx := context.Background()
	entity := "dir-test-" + uuid.NewString()
	employeeID := entity + "-emp"
	at := time.Date(2025, time.March, 29, 9, 0, 0, 0, time.UTC)

	previous, err := store.PreviousNetPay(ctx, employeeID, march)
	require.NoError(t, err)
	assert.Nil(t, previous)

	draft := func(period time.Time, net string) payroll.PayrollRun {
		run, err := runs.CreateDraft(ctx, payroll.PayrollRun{
			ID:            uuid.NewString(),
			Entity:        entity,
			PayrollPeriod: period,
			SpecialistID:  "spec-1",
			CreatedAt:     at,
		}, []payroll.PaySlip{{
			ID:               uuid.NewString(),
			EmployeeID:       employeeID,
			TotalGrossSalary: money(net),
			TotalDeductions:  decimal.Zero,
			NetPay:           money(net),
			CreatedAt:        at,
		}})
		require.NoError(t, err)
		return run
	}
	approve := func(runID string) {
		steps := []payroll.Transition{
			{RunID: runID, From: payroll.StatusDraft, To: payroll.StatusUnderReview, Action: payroll.ActionPublish, ActorID: "spec-1", Role: payroll.RoleSpecialist, At: at},
			{RunID: runID, From: payroll.StatusUnderReview, To: payroll.StatusPendingFinanceApproval, Action: payroll.ActionManagerApprove, ActorID: "mgr-1", Role: payroll.RoleManager, At: at},
			{RunID: runID, From: payroll.StatusPendingFinanceApproval, To: payroll.StatusApproved, Action: payroll.ActionFinanceApprove, ActorID: "fin-1", Role: payroll.RoleFinance, At: at},
		}
		for _, step := range steps {
			_, err := runs.TransitionRun(ctx, step)
			require.NoError(t, err)
		}
	}

	january := draft(march.AddDate(0, -2, 0), "3900.00")
	approve(january.ID)
	draft(march.AddDate(0, -1, 0), "4100.00")

	previous, err = store.PreviousNetPay(ctx, employeeID, march)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.True(t, money("3900").Equal(*previous))

	current := draft(march, "4500.00")
	approve(current.ID)
	previous, err = store.PreviousNetPay(ctx, employeeID, march)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.True(t, money("3900").Equal(*previous))
}

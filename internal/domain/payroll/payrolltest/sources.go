package payrolltest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"payrun/internal/domain/payroll"
)

// Directory is a map-backed implementation of every collaborator the
// resolver reads. The Fn fields override lookups when set.
type Directory struct {
	mu          sync.RWMutex
	employees   map[string]payroll.Employee
	scope       map[string][]string
	comp        map[string]payroll.Compensation
	unpaidDays  map[string]decimal.Decimal
	events      map[string][]string
	disputes    map[string]bool
	previousNet map[string]decimal.Decimal

	GetEmployeeFn     func(ctx context.Context, employeeID string) (payroll.Employee, error)
	GetCompensationFn func(ctx context.Context, employeeID string, period time.Time) (payroll.Compensation, error)
}

func NewDirectory() *Directory {
	return &Directory{
		employees:   map[string]payroll.Employee{},
		scope:       map[string][]string{},
		comp:        map[string]payroll.Compensation{},
		unpaidDays:  map[string]decimal.Decimal{},
		events:      map[string][]string{},
		disputes:    map[string]bool{},
		previousNet: map[string]decimal.Decimal{},
	}
}

// AddEmployee registers an employee in the entity scope with a valid bank account.
func (d *Directory) AddEmployee(entity, employeeID string, baseSalary decimal.Decimal) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[employeeID] = payroll.Employee{ID: employeeID, Entity: entity, BaseSalary: baseSalary, BankStatus: payroll.BankStatusValid}
	d.scope[entity] = append(d.scope[entity], employeeID)
	return d
}

// AddToScope lists an employee in scope without a directory record.
func (d *Directory) AddToScope(entity, employeeID string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scope[entity] = append(d.scope[entity], employeeID)
	return d
}

func (d *Directory) SetBankStatus(employeeID string, status payroll.BankStatus) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	employee := d.employees[employeeID]
	employee.BankStatus = status
	d.employees[employeeID] = employee
	return d
}

func (d *Directory) SetBaseSalary(employeeID string, baseSalary decimal.Decimal) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	employee := d.employees[employeeID]
	employee.BaseSalary = baseSalary
	d.employees[employeeID] = employee
	return d
}

func (d *Directory) SetCompensation(employeeID string, comp payroll.Compensation) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.comp[employeeID] = comp
	return d
}

func (d *Directory) SetUnpaidLeave(employeeID string, days decimal.Decimal, events ...string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unpaidDays[employeeID] = days
	d.events[employeeID] = events
	return d
}

func (d *Directory) SetDispute(employeeID string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disputes[employeeID] = true
	return d
}

func (d *Directory) SetPreviousNet(employeeID string, net decimal.Decimal) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previousNet[employeeID] = net
	return d
}

func (d *Directory) Sources() payroll.Sources {
	return payroll.Sources{Employees: d, Compensation: d, Leave: d, Disputes: d, History: d}
}

func (d *Directory) GetEmployee(ctx context.Context, employeeID string) (payroll.Employee, error) {
	if d.GetEmployeeFn != nil {
		return d.GetEmployeeFn(ctx, employeeID)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	employee, ok := d.employees[employeeID]
	if !ok {
		return payroll.Employee{}, payroll.ErrEmployeeNotFound
	}
	return employee, nil
}

func (d *Directory) ListEmployeesInScope(_ context.Context, entity string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string{}, d.scope[entity]...), nil
}

func (d *Directory) GetCompensation(ctx context.Context, employeeID string, period time.Time) (payroll.Compensation, error) {
	if d.GetCompensationFn != nil {
		return d.GetCompensationFn(ctx, employeeID, period)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.comp[employeeID], nil
}

func (d *Directory) GetUnpaidLeaveDays(_ context.Context, employeeID string, _ time.Time) (decimal.Decimal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.unpaidDays[employeeID], nil
}

func (d *Directory) GetHREvents(_ context.Context, employeeID string, _ time.Time) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string{}, d.events[employeeID]...), nil
}

func (d *Directory) HasUnresolvedDisputes(_ context.Context, employeeID string, _ time.Time) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.disputes[employeeID], nil
}

func (d *Directory) PreviousNetPay(_ context.Context, employeeID string, _ time.Time) (*decimal.Decimal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	net, ok := d.previousNet[employeeID]
	if !ok {
		return nil, nil
	}
	return &net, nil
}
